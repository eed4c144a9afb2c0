package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Consensus carries the tunable heights and timeouts that drive the
// delegated PVSS state machine. Mainnet values come from Default();
// BigBang's own BIGBANG_TESTNET build shrinks them for fast local networks,
// so we mirror that as a named testnet profile instead of a build tag.
type Consensus struct {
	// DistributeInterval is the number of blocks between a distribute
	// anchor and its publish height.
	DistributeInterval uint32
	// EnrollInterval is how many blocks back candidates may still enroll
	// for a given target height.
	EnrollInterval uint32
	// Interval is the total sliding-window span (enroll + distribute +
	// publish) a ConsensusDriver keeps live at once.
	Interval uint32
	// MaxDelegateThresh caps the number of delegates considered for a
	// single round, independent of weight.
	MaxDelegateThresh uint32
	// BulletinTimeout debounces repeated bulletin broadcasts to the same
	// peer set.
	BulletinTimeout time.Duration
}

type Node struct {
	Identity string
	ListenAddrs []string
}

type Config struct {
	Consensus Consensus
	Node      Node
}

// Default returns the mainnet tunables, grounded on delegatecomm.h's
// non-testnet constants: CONSENSUS_DISTRIBUTE_INTERVAL=15,
// CONSENSUS_ENROLL_INTERVAL=30, CONSENSUS_INTERVAL=DISTRIBUTE+ENROLL+1,
// MAX_DELEGATE_THRESH=23.
func Default() Config {
	const distribute, enroll = 15, 30
	return Config{
		Consensus: Consensus{
			DistributeInterval: distribute,
			EnrollInterval:     enroll,
			Interval:           distribute + enroll + 1,
			MaxDelegateThresh:  23,
			BulletinTimeout:    500 * time.Millisecond,
		},
		Node: Node{
			Identity:    "",
			ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
		},
	}
}

// Testnet returns the scaled-down constants delegatecomm.h uses under
// BIGBANG_TESTNET (DISTRIBUTE_INTERVAL=3, ENROLL_INTERVAL=6), useful for
// fast local multi-node test networks.
func Testnet() Config {
	cfg := Default()
	const distribute, enroll = 3, 6
	cfg.Consensus.DistributeInterval = distribute
	cfg.Consensus.EnrollInterval = enroll
	cfg.Consensus.Interval = distribute + enroll + 1
	return cfg
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()
	if os.Getenv("CONSENSUS_PROFILE") == "testnet" {
		cfg = Testnet()
	}

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("CONSENSUS_DISTRIBUTE_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Consensus.DistributeInterval = uint32(n)
		}
	}
	if v := os.Getenv("CONSENSUS_ENROLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Consensus.EnrollInterval = uint32(n)
		}
	}
	if v := os.Getenv("CONSENSUS_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Consensus.Interval = uint32(n)
		}
	}
	if v := os.Getenv("MAX_DELEGATE_THRESH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Consensus.MaxDelegateThresh = uint32(n)
		}
	}
	if v := os.Getenv("BULLETIN_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Consensus.BulletinTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("NODE_IDENTITY"); v != "" {
		cfg.Node.Identity = v
	}

	return cfg
}
