package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dpvss/consensus/params"
	"github.com/dpvss/consensus/pkg/channel"
	"github.com/dpvss/consensus/pkg/consensus"
	"github.com/dpvss/consensus/pkg/debugapi"
	"github.com/dpvss/consensus/pkg/edcurve"
	"github.com/dpvss/consensus/pkg/parallel"
	"github.com/dpvss/consensus/pkg/pvss"
	"github.com/dpvss/consensus/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/pvssnode.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	logger.Info("logger_initialized", zap.String("log_file", logFile))

	priv, err := edcurve.RandomScalar(rand.Reader)
	if err != nil {
		logger.Fatal("keygen failed", zap.Error(err))
	}
	pub := priv.BasePoint()
	var selfIdent pvss.Identity
	copy(selfIdent[:], pub.Marshal())

	// Dev mode: this node is the only enrolled candidate. A host chain
	// embedding this module would source localIdents and weight from its
	// own validator set instead.
	localIdents := []pvss.Identity{selfIdent}
	weight := map[pvss.Identity]uint32{selfIdent: 1}

	pool := parallel.NewPool(4)
	driver := consensus.NewConsensusDriver(cfg.Consensus, localIdents, pool, logger)

	clock := util.RealClock{}
	view := channel.NewChainView(cfg.Consensus.DistributeInterval, clock)
	sched := channel.NewPeerScheduler()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listenAddr := ""
	if len(cfg.Node.ListenAddrs) > 0 {
		listenAddr = cfg.Node.ListenAddrs[0]
	}
	transport, err := channel.NewTransport(ctx, channel.Libp2pConfig{
		ListenAddr: listenAddr,
		Bootstrap:  parseBootstrapPeers(),
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("transport init failed", zap.Error(err))
	}

	ch := channel.NewDelegatedChannel(cfg.Consensus, view, sched, driver, transport, clock, logger)
	transport.SetChannel(ch)
	ch.StartBulletinTimer()

	debugAddr := os.Getenv("DEBUG_API_ADDR")
	if debugAddr == "" {
		debugAddr = ":8090"
	}
	api := debugapi.NewServer(driver, view, sched, logger)
	go func() {
		if err := api.Start(debugAddr); err != nil {
			logger.Fatal("debug api failed", zap.Error(err))
		}
	}()

	logger.Info("node_starting",
		zap.String("identity", hexIdent(selfIdent)),
		zap.String("listen", listenAddr),
		zap.String("debug_api", debugAddr))

	// Dev-mode block ticker: this module takes no block production role of
	// its own (that's the host chain's job), so local testing drives Evolve
	// off a fixed-interval ticker with a synthetic block hash instead.
	const devBlockInterval = 2 * time.Second
	var height uint64
	var pendingEnroll map[pvss.Identity]consensus.EnrollRecord
	ticker := time.NewTicker(devBlockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("node_shutting_down")
			return
		case <-ticker.C:
			hashBlock := devBlockHash(height)
			res, err := driver.Evolve(height, weight, pendingEnroll, hashBlock)
			if err != nil {
				logger.Error("evolve failed", zap.Uint64("height", height), zap.Error(err))
				break
			}
			pendingEnroll = res.EnrollData

			var distributeData map[consensus.Hash256]map[pvss.Identity]consensus.DelegateData
			if len(res.DistributeData) > 0 {
				distributeData = map[consensus.Hash256]map[pvss.Identity]consensus.DelegateData{
					hashBlock: res.DistributeData,
				}
			}

			publishReleaseTime := clock.Now().Add(time.Second)
			startHeight := uint64(0)
			if height >= uint64(cfg.Consensus.DistributeInterval) {
				startHeight = height - uint64(cfg.Consensus.DistributeInterval)
			}
			view.PrimaryUpdate(startHeight,
				[]channel.BlockEnroll{{Height: height, Anchor: hashBlock, Weight: weight}},
				distributeData, res.DistributeOfPublish, res.PublishData, publishReleaseTime)

			if len(res.PublishData) > 0 {
				ch.SchedulePublishRelease(publishReleaseTime)
			}
			if len(res.DistributeData) > 0 || len(res.PublishData) > 0 {
				ch.ForceBulletin()
			}

			// A block at height h publishes the round whose target is h+1.
			publishTarget := height + 1
			if completed, ok, err := tryComplete(driver, cfg, publishTarget, res); err == nil && ok && completed {
				agreement, wt, _, _ := driver.GetAgreement(publishTarget, res.DistributeOfPublish)
				api.NotifyRoundCompleted(debugapi.RoundCompletedEvent{
					TargetHeight: publishTarget,
					Anchor:       hexHash(res.DistributeOfPublish),
					Agreement:    hexHash(agreement),
					Weight:       wt,
				})
			}

			height++
		}
	}
}

// tryComplete folds a locally-produced publish frame straight back into the
// round it belongs to, the way a real transport would once every peer's
// publish frame arrives; a single-node dev network is its own only peer.
func tryComplete(driver *consensus.ConsensusDriver, cfg params.Config, targetHeight uint64, res consensus.EvolveResult) (bool, bool, error) {
	var completed, ok bool
	var err error
	for from, data := range res.PublishData {
		completed, ok, err = driver.HandlePublish(targetHeight, res.DistributeOfPublish, from, data)
		if err != nil {
			return false, false, err
		}
	}
	return completed, ok, nil
}

func devBlockHash(height uint64) consensus.Hash256 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return sha256.Sum256(buf[:])
}

func hexIdent(id pvss.Identity) string {
	return hexHash(consensus.Hash256(id))
}

func hexHash(h consensus.Hash256) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(h)*2)
	for i, b := range h {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0xf]
	}
	return string(out)
}

func parseBootstrapPeers() []string {
	raw := os.Getenv("BOOTSTRAP_PEERS")
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}
