package consensus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/dpvss/consensus/params"
	"github.com/dpvss/consensus/pkg/parallel"
	"github.com/dpvss/consensus/pkg/pvss"
)

// EvolveResult carries everything a new block's arrival produced: the fresh
// round's own enroll records (to fold into an EnrollTx), this block's
// distribute frames (if it landed on an enrollEnd height), and this block's
// publish frames (if it landed on a publish height) together with the
// distribute anchor they publish against. Mirrors CDelegateEvolveResult.
type EvolveResult struct {
	EnrollData          map[pvss.Identity]EnrollRecord
	DistributeData      map[pvss.Identity]DelegateData
	PublishData         map[pvss.Identity]DelegateData
	DistributeOfPublish Hash256
}

// ConsensusDriver advances the sliding window of in-flight PVSS rounds as
// blocks arrive. It is the Go shape of CDelegate: byTarget mirrors mapVote
// (one entry per target height, Setup once and never mutated again besides
// its DistributeAnchor bookkeeping field) and byDistributeAnchor mirrors
// mapDistributeVote (an independent clone keyed by the block hash at which
// the target height reached enrollEnd; when a different block reaches
// enrollEnd for the same target, its fresh clone replaces the earlier one,
// which is deleted).
type ConsensusDriver struct {
	mu  sync.Mutex
	cfg params.Consensus

	localIdents []pvss.Identity
	pool        *parallel.Pool
	log         *zap.Logger

	byTarget           map[uint64]*Vote
	byDistributeAnchor map[Hash256]*Vote
}

// NewConsensusDriver builds a driver for the given locally-controlled
// delegate identities.
func NewConsensusDriver(cfg params.Consensus, localIdents []pvss.Identity, pool *parallel.Pool, log *zap.Logger) *ConsensusDriver {
	return &ConsensusDriver{
		cfg:                cfg,
		localIdents:        localIdents,
		pool:               pool,
		log:                log,
		byTarget:           make(map[uint64]*Vote),
		byDistributeAnchor: make(map[Hash256]*Vote),
	}
}

// Evolve folds one new block into the sliding window: it deletes the round
// that has fallen out the trailing edge, sets up a fresh round at the
// leading edge, enrolls and distributes the round reaching its enrollEnd
// height (cloning it per distribute anchor so that competing chain tips get
// independent state), and publishes the round whose publish height this
// block occupies. nBlockHeight is the height of the block carrying hashBlock.
func (d *ConsensusDriver) Evolve(nBlockHeight uint64, weight map[pvss.Identity]uint32, enrollData map[pvss.Identity]EnrollRecord, hashBlock Hash256) (EvolveResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var result EvolveResult

	target := nBlockHeight + uint64(d.cfg.Interval)
	enrollEnd := nBlockHeight + uint64(d.cfg.DistributeInterval) + 1
	publish := nBlockHeight + 1

	d.deleteExpired(nBlockHeight)
	d.setupRound(target, hashBlock, &result)
	d.enrollAndDistribute(enrollEnd, weight, enrollData, hashBlock, &result)
	d.publishRound(publish, hashBlock, &result)

	return result, nil
}

func (d *ConsensusDriver) deleteExpired(nBlockHeight uint64) {
	if nBlockHeight <= uint64(d.cfg.Interval) {
		return
	}
	nDelete := nBlockHeight - uint64(d.cfg.Interval)
	entry, ok := d.byTarget[nDelete]
	if !ok {
		return
	}
	d.log.Debug("evolve delete", zap.Uint64("target_height", nDelete))
	var zero Hash256
	if entry.DistributeAnchor != zero {
		delete(d.byDistributeAnchor, entry.DistributeAnchor)
	}
	delete(d.byTarget, nDelete)
}

func (d *ConsensusDriver) setupRound(target uint64, hashBlock Hash256, result *EvolveResult) {
	if _, exists := d.byTarget[target]; exists {
		d.log.Error("evolve setup: already exists", zap.Uint64("target_height", target))
		return
	}
	vote := NewVote(d.localIdents, d.pool)
	records, err := vote.Setup(int(d.cfg.MaxDelegateThresh), hashBlock)
	if err != nil {
		d.log.Error("evolve setup failed", zap.Uint64("target_height", target), zap.Error(err))
		return
	}
	d.byTarget[target] = vote
	result.EnrollData = records
}

func (d *ConsensusDriver) enrollAndDistribute(enrollEnd uint64, weight map[pvss.Identity]uint32, enrollData map[pvss.Identity]EnrollRecord, hashBlock Hash256, result *EvolveResult) {
	entry, ok := d.byTarget[enrollEnd]
	if !ok {
		d.log.Error("evolve enroll: target height not found", zap.Uint64("target_height", enrollEnd))
		return
	}

	var zero Hash256
	if entry.DistributeAnchor != zero && entry.DistributeAnchor != hashBlock {
		if _, found := d.byDistributeAnchor[entry.DistributeAnchor]; found {
			d.log.Info("evolve enroll: superseding distribute anchor",
				zap.Uint64("target_height", enrollEnd),
				zap.Binary("old_anchor", entry.DistributeAnchor[:]),
				zap.Binary("new_anchor", hashBlock[:]))
			delete(d.byDistributeAnchor, entry.DistributeAnchor)
		}
	}
	entry.DistributeAnchor = hashBlock

	clone := entry.Clone()
	clone.DistributeAnchor = hashBlock
	d.byDistributeAnchor[hashBlock] = clone

	clone.Enroll(weight, enrollData)
	result.DistributeData = clone.Distribute()
}

func (d *ConsensusDriver) publishRound(publish uint64, hashBlock Hash256, result *EvolveResult) {
	entry, ok := d.byTarget[publish]
	if !ok {
		d.log.Error("evolve publish: target height not found", zap.Uint64("target_height", publish))
		return
	}
	var zero Hash256
	if entry.DistributeAnchor == zero {
		d.log.Error("evolve publish: distribute anchor is null", zap.Uint64("target_height", publish))
		return
	}
	hashDistribute := entry.DistributeAnchor
	vote, ok := d.byDistributeAnchor[hashDistribute]
	if !ok {
		d.log.Error("evolve publish: distribute vote not found",
			zap.Uint64("target_height", publish), zap.Binary("distribute_anchor", hashDistribute[:]))
		return
	}
	if !vote.IsEnrolled {
		d.log.Error("evolve publish: round never enrolled",
			zap.Uint64("target_height", publish), zap.Binary("distribute_anchor", hashDistribute[:]))
		return
	}
	if vote.PublishedAnchor != zero && vote.PublishedAnchor != hashBlock {
		d.log.Info("evolve publish: re-publishing under new anchor",
			zap.Uint64("target_height", publish),
			zap.Binary("old_publish", vote.PublishedAnchor[:]),
			zap.Binary("new_publish", hashBlock[:]))
		vote.IsPublished = false
	}
	if vote.IsPublished {
		d.log.Error("evolve publish: already published",
			zap.Uint64("target_height", publish), zap.Binary("distribute_anchor", hashDistribute[:]))
		return
	}

	vote.IsPublished = true
	result.PublishData = vote.Publish()
	vote.PublishedAnchor = hashBlock
	result.DistributeOfPublish = hashDistribute
}

// resolve finds the live distribute-anchor round for targetHeight, verifying
// that distributeAnchor matches what this node actually distributed under.
func (d *ConsensusDriver) resolve(targetHeight uint64, distributeAnchor Hash256) (*Vote, error) {
	entry, ok := d.byTarget[targetHeight]
	if !ok {
		return nil, ErrTargetNotFound
	}
	var zero Hash256
	if entry.DistributeAnchor == zero {
		return nil, ErrDistributeAnchorNull
	}
	if entry.DistributeAnchor != distributeAnchor {
		return nil, ErrDistributeAnchorMismatch
	}
	vote, ok := d.byDistributeAnchor[entry.DistributeAnchor]
	if !ok {
		return nil, ErrDistributeVoteNotFound
	}
	return vote, nil
}

// HandleDistribute routes a peer's distribute frame into the round it
// belongs to, verifying the distribute anchor the peer claims to be voting
// under still matches this node's own.
func (d *ConsensusDriver) HandleDistribute(targetHeight uint64, distributeAnchor Hash256, fromIdent pvss.Identity, data DelegateData) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	vote, err := d.resolve(targetHeight, distributeAnchor)
	if err != nil {
		d.log.Error("handle distribute", zap.Uint64("target_height", targetHeight), zap.Error(err))
		return false, err
	}
	ok := vote.Accept(fromIdent, data)
	d.log.Debug("handle distribute",
		zap.Uint64("target_height", targetHeight), zap.Bool("accepted", ok))
	return ok, nil
}

// HandlePublish routes a peer's publish frame into the round it belongs to,
// reporting whether the round is now complete.
func (d *ConsensusDriver) HandlePublish(targetHeight uint64, distributeAnchor Hash256, fromIdent pvss.Identity, data DelegateData) (completed bool, ok bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	vote, err := d.resolve(targetHeight, distributeAnchor)
	if err != nil {
		d.log.Error("handle publish", zap.Uint64("target_height", targetHeight), zap.Error(err))
		return false, false, err
	}
	completed, ok = vote.Collect(fromIdent, data)
	d.log.Debug("handle publish",
		zap.Uint64("target_height", targetHeight), zap.Bool("collected", ok), zap.Bool("completed", completed))
	return completed, ok, nil
}

// GetAgreement reconstructs the agreed secret for a completed round.
func (d *ConsensusDriver) GetAgreement(targetHeight uint64, distributeAnchor Hash256) (Hash256, uint32, Ballot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	vote, err := d.resolve(targetHeight, distributeAnchor)
	if err != nil {
		return Hash256{}, 0, nil, err
	}
	agreement, wt, ballot := vote.GetAgreement()
	return agreement, wt, ballot, nil
}

// GetProof returns the publish frames backing a completed round's agreement.
func (d *ConsensusDriver) GetProof(targetHeight uint64, distributeAnchor Hash256) ([]DelegateData, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	vote, err := d.resolve(targetHeight, distributeAnchor)
	if err != nil {
		return nil, err
	}
	return vote.GetProof(), nil
}
