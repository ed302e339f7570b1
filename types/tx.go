package types

import (
	"fmt"
	"time"
)

// Transaction is a signed, nonce-ordered request to execute a list of
// actions on behalf of Signer. Actions are opaque payloads resolved by the
// action loader at evaluation time.
type Transaction struct {
	Signer      Address  `cramberry:"1"`
	PublicKey   []byte   `cramberry:"2"`
	Nonce       int64    `cramberry:"3"`
	GenesisHash Hash     `cramberry:"4"`
	Actions     [][]byte `cramberry:"5"`
	Timestamp   int64    `cramberry:"6"`
	GasLimit    int64    `cramberry:"7"`
	MaxGasPrice int64    `cramberry:"8"`
	Signature   []byte   `cramberry:"9"`
}

// NewTransaction builds and signs a transaction.
func NewTransaction(key *PrivateKey, nonce int64, genesisHash Hash, actions [][]byte, timestamp time.Time) (*Transaction, error) {
	tx := &Transaction{
		Signer:      key.Address(),
		PublicKey:   key.PublicKey(),
		Nonce:       nonce,
		GenesisHash: genesisHash.Copy(),
		Actions:     actions,
		Timestamp:   timestamp.UnixNano(),
	}
	if err := tx.Sign(key); err != nil {
		return nil, err
	}
	return tx, nil
}

// SignBytes returns the canonical bytes covered by the signature.
func (tx *Transaction) SignBytes() ([]byte, error) {
	unsigned := *tx
	unsigned.Signature = nil
	return Encode(&unsigned)
}

// Sign signs the transaction in place.
func (tx *Transaction) Sign(key *PrivateKey) error {
	if key.Address() != tx.Signer {
		return fmt.Errorf("%w: key does not match signer %s", ErrInvalidSignature, tx.Signer)
	}
	msg, err := tx.SignBytes()
	if err != nil {
		return err
	}
	tx.Signature = key.Sign(msg)
	return nil
}

// Verify checks that the signer derives from the public key and that the
// signature covers the transaction.
func (tx *Transaction) Verify() error {
	if tx.Nonce < 0 {
		return fmt.Errorf("negative nonce %d", tx.Nonce)
	}
	if AddressFromPublicKey(tx.PublicKey) != tx.Signer {
		return fmt.Errorf("%w: signer %s does not match public key", ErrInvalidSignature, tx.Signer)
	}
	msg, err := tx.SignBytes()
	if err != nil {
		return err
	}
	return VerifySignature(tx.PublicKey, msg, tx.Signature)
}

// Bytes returns the full canonical encoding.
func (tx *Transaction) Bytes() ([]byte, error) {
	return Encode(tx)
}

// ID returns the content hash of the signed transaction.
func (tx *Transaction) ID() Hash {
	return MustHashValue(tx)
}

// ByteSize returns the length of the encoded transaction.
func (tx *Transaction) ByteSize() int {
	data, err := Encode(tx)
	if err != nil {
		return 0
	}
	return len(data)
}

// Time returns the transaction timestamp.
func (tx *Transaction) Time() time.Time {
	return time.Unix(0, tx.Timestamp)
}

// TxExecution records the outcome of one transaction within one block.
type TxExecution struct {
	TxID           Hash     `cramberry:"1"`
	BlockHash      Hash     `cramberry:"2"`
	Fail           bool     `cramberry:"3"`
	InputState     Hash     `cramberry:"4"`
	OutputState    Hash     `cramberry:"5"`
	ExceptionNames []string `cramberry:"6"`
}
