package consensus

import (
	"sync"

	"github.com/blockberries/ledgerberry/types"
)

// Detector determines whether a local identity is in a validator set.
type Detector struct {
	address types.Address
}

// NewDetector creates a detector for the validator with the given public key.
func NewDetector(publicKey []byte) *Detector {
	return &Detector{address: types.AddressFromPublicKey(publicKey)}
}

// NewAddressDetector creates a detector for an address.
func NewAddressDetector(addr types.Address) *Detector {
	return &Detector{address: addr}
}

// Address returns the detected address.
func (d *Detector) Address() types.Address {
	return d.address
}

// IsValidator reports whether the address is in valSet.
func (d *Detector) IsValidator(valSet *types.ValidatorSet) bool {
	return valSet.Contains(d.address)
}

// ValidatorIndex returns the address's vote slot in valSet, or -1.
func (d *Detector) ValidatorIndex(valSet *types.ValidatorSet) int {
	return valSet.IndexOf(d.address)
}

// StatusCallback is called when the local validator status changes.
type StatusCallback func(isValidator bool, index int, validator *types.Validator)

// StatusTracker follows validator set changes and reports when the local
// identity joins or leaves the set, or moves to another slot.
type StatusTracker struct {
	detector      *Detector
	callback      StatusCallback
	lastStatus    bool
	lastIndex     int
	lastValidator *types.Validator
	mu            sync.RWMutex
}

// NewStatusTracker creates a tracker. The callback may be nil.
func NewStatusTracker(detector *Detector, callback StatusCallback) *StatusTracker {
	return &StatusTracker{
		detector:  detector,
		callback:  callback,
		lastIndex: -1,
	}
}

// Update checks valSet and reports whether the status changed.
// The callback runs outside the tracker lock.
func (t *StatusTracker) Update(valSet *types.ValidatorSet) bool {
	index := t.detector.ValidatorIndex(valSet)
	isValidator := index >= 0
	var validator *types.Validator
	if isValidator {
		validator = valSet.Validators[index].Copy()
	}

	t.mu.Lock()
	changed := isValidator != t.lastStatus || index != t.lastIndex
	if changed {
		t.lastStatus = isValidator
		t.lastIndex = index
		t.lastValidator = validator
	}
	cb := t.callback
	t.mu.Unlock()

	if changed && cb != nil {
		cb(isValidator, index, validator)
	}
	return changed
}

// IsValidator returns the last observed status.
func (t *StatusTracker) IsValidator() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastStatus
}

// ValidatorIndex returns the last observed slot, or -1.
func (t *StatusTracker) ValidatorIndex() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastIndex
}

// Validator returns the last observed validator entry, or nil.
func (t *StatusTracker) Validator() *types.Validator {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastValidator
}
