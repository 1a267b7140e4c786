package registration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	teamsBucket       = "teams"
	paymentHashBucket = "payment_hashes"
	transactionBucket = "transaction_ids"
)

var (
	// ErrTeamNotFound is returned when no team has the requested id
	ErrTeamNotFound = errors.New("team not found")
	// ErrDuplicatePayment is returned when the screenshot fingerprint is already registered
	ErrDuplicatePayment = errors.New("payment screenshot already registered")
	// ErrDuplicateTransaction is returned when the transaction id is already registered
	ErrDuplicateTransaction = errors.New("transaction id already registered")
)

// DB defines the interface for team storage. It doubles as the duplicate
// registry consulted during verification.
type DB interface {
	// RegisterTeam stores a new team, assigning its team number or waitlisting it.
	// Payment hash and transaction id uniqueness are enforced atomically.
	RegisterTeam(ctx context.Context, team *Team, capacity int) error

	// GetTeam retrieves a team by ID
	GetTeam(ctx context.Context, id string) (*Team, error)

	// ListTeams returns all teams in registration order
	ListTeams(ctx context.Context) ([]*Team, error)

	// PaymentHashExists reports whether any team registered with hash
	PaymentHashExists(ctx context.Context, hash string) (bool, error)

	// TransactionIDExists reports whether any team registered with the transaction id
	TransactionIDExists(ctx context.Context, id string) (bool, error)

	// CountConfirmed returns the number of non-waitlisted teams
	CountConfirmed(ctx context.Context) (int, error)

	// Ping checks the store is reachable
	Ping(ctx context.Context) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{teamsBucket, paymentHashBucket, transactionBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// RegisterTeam checks uniqueness, assigns the slot and writes the team in a
// single update transaction. bbolt allows one writer at a time.
func (b *BoltDB) RegisterTeam(ctx context.Context, team *Team, capacity int) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		hashes := tx.Bucket([]byte(paymentHashBucket))
		txns := tx.Bucket([]byte(transactionBucket))
		teams := tx.Bucket([]byte(teamsBucket))

		if team.PaymentHash != "" && hashes.Get([]byte(team.PaymentHash)) != nil {
			return ErrDuplicatePayment
		}
		if team.TransactionID != "" && txns.Get([]byte(team.TransactionID)) != nil {
			return ErrDuplicateTransaction
		}

		confirmed, err := countConfirmed(teams)
		if err != nil {
			return err
		}
		assignSlot(team, confirmed, capacity)

		data, err := json.Marshal(team)
		if err != nil {
			return fmt.Errorf("marshaling team: %w", err)
		}
		if err := teams.Put([]byte(team.ID), data); err != nil {
			return err
		}
		if team.PaymentHash != "" {
			if err := hashes.Put([]byte(team.PaymentHash), []byte(team.ID)); err != nil {
				return err
			}
		}
		if team.TransactionID != "" {
			if err := txns.Put([]byte(team.TransactionID), []byte(team.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetTeam retrieves a team by ID
func (b *BoltDB) GetTeam(ctx context.Context, id string) (*Team, error) {
	var team *Team
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(teamsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrTeamNotFound, id)
		}
		return json.Unmarshal(data, &team)
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}

// ListTeams returns all teams ordered by registration time
func (b *BoltDB) ListTeams(ctx context.Context) ([]*Team, error) {
	teams := make([]*Team, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(teamsBucket)).ForEach(func(k, v []byte) error {
			var team Team
			if err := json.Unmarshal(v, &team); err != nil {
				return fmt.Errorf("unmarshaling team: %w", err)
			}
			teams = append(teams, &team)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortTeams(teams)
	return teams, nil
}

// PaymentHashExists reports whether any team registered with hash
func (b *BoltDB) PaymentHashExists(ctx context.Context, hash string) (bool, error) {
	return b.keyExists(paymentHashBucket, hash)
}

// TransactionIDExists reports whether any team registered with the transaction id
func (b *BoltDB) TransactionIDExists(ctx context.Context, id string) (bool, error) {
	return b.keyExists(transactionBucket, id)
}

func (b *BoltDB) keyExists(bucket, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket([]byte(bucket)).Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

// CountConfirmed returns the number of non-waitlisted teams
func (b *BoltDB) CountConfirmed(ctx context.Context) (int, error) {
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		n, err = countConfirmed(tx.Bucket([]byte(teamsBucket)))
		return err
	})
	return n, err
}

func countConfirmed(teams *bbolt.Bucket) (int, error) {
	n := 0
	err := teams.ForEach(func(k, v []byte) error {
		var team struct {
			Waitlisted bool `json:"waitlisted"`
		}
		if err := json.Unmarshal(v, &team); err != nil {
			return fmt.Errorf("unmarshaling team: %w", err)
		}
		if !team.Waitlisted {
			n++
		}
		return nil
	})
	return n, err
}

// Ping checks the database file is still open
func (b *BoltDB) Ping(ctx context.Context) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(teamsBucket)) == nil {
			return fmt.Errorf("bucket %s missing", teamsBucket)
		}
		return nil
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// sortTeams orders teams by creation time, then team number
func sortTeams(teams []*Team) {
	sort.SliceStable(teams, func(i, j int) bool {
		if !teams[i].CreatedAt.Equal(teams[j].CreatedAt) {
			return teams[i].CreatedAt.Before(teams[j].CreatedAt)
		}
		return teams[i].TeamNumber < teams[j].TeamNumber
	})
}
