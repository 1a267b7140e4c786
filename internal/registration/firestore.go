package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zombor/sinova-register/internal/verification"
)

const (
	teamsCollection       = "teams"
	paymentHashCollection = "payment_hashes"
	transactionCollection = "transaction_ids"
	metaCollection        = "registration_meta"
	slotsDocument         = "slots"
)

// FirestoreDB implements the DB interface on Cloud Firestore. Guard documents
// keyed by payment hash and transaction id make uniqueness transactional.
type FirestoreDB struct {
	client *firestore.Client
}

type memberDoc struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone"`
	Meal  string `firestore:"meal"`
}

type teamDoc struct {
	TeamNumber    int         `firestore:"team_number"`
	TeamName      string      `firestore:"team_name"`
	Members       []memberDoc `firestore:"members"`
	TransactionID string      `firestore:"transaction_id"`
	PaymentHash   string      `firestore:"payment_hash"`
	PaymentStatus string      `firestore:"payment_status"`
	Confidence    int         `firestore:"confidence"`
	Waitlisted    bool        `firestore:"waitlisted"`
	CreatedAt     time.Time   `firestore:"created_at"`
}

// NewFirestoreDB creates a Firestore client for projectID
func NewFirestoreDB(ctx context.Context, projectID string) (*FirestoreDB, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return NewFirestoreDBWithClient(client), nil
}

// NewFirestoreDBWithClient wraps an existing client
func NewFirestoreDBWithClient(client *firestore.Client) *FirestoreDB {
	return &FirestoreDB{client: client}
}

// RegisterTeam reads the guard documents and slot counter, then creates the
// team in the same transaction
func (f *FirestoreDB) RegisterTeam(ctx context.Context, team *Team, capacity int) error {
	teamRef := f.client.Collection(teamsCollection).Doc(team.ID)
	slotsRef := f.client.Collection(metaCollection).Doc(slotsDocument)
	var hashRef, txnRef *firestore.DocumentRef
	if team.PaymentHash != "" {
		hashRef = f.client.Collection(paymentHashCollection).Doc(team.PaymentHash)
	}
	if team.TransactionID != "" {
		txnRef = f.client.Collection(transactionCollection).Doc(team.TransactionID)
	}

	return f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if taken, err := guardExists(tx, hashRef); err != nil {
			return err
		} else if taken {
			return ErrDuplicatePayment
		}
		if taken, err := guardExists(tx, txnRef); err != nil {
			return err
		} else if taken {
			return ErrDuplicateTransaction
		}

		confirmed, err := readConfirmed(tx, slotsRef)
		if err != nil {
			return err
		}
		assignSlot(team, confirmed, capacity)

		if err := tx.Create(teamRef, toTeamDoc(team)); err != nil {
			return fmt.Errorf("creating team: %w", err)
		}
		guard := map[string]interface{}{"team_id": team.ID}
		if hashRef != nil {
			if err := tx.Create(hashRef, guard); err != nil {
				return fmt.Errorf("creating payment hash guard: %w", err)
			}
		}
		if txnRef != nil {
			if err := tx.Create(txnRef, guard); err != nil {
				return fmt.Errorf("creating transaction guard: %w", err)
			}
		}
		if !team.Waitlisted {
			if err := tx.Set(slotsRef, map[string]interface{}{"confirmed": confirmed + 1}); err != nil {
				return fmt.Errorf("updating slot counter: %w", err)
			}
		}
		return nil
	})
}

func guardExists(tx *firestore.Transaction, ref *firestore.DocumentRef) (bool, error) {
	if ref == nil {
		return false, nil
	}
	_, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading guard %s: %w", ref.ID, err)
	}
	return true, nil
}

func readConfirmed(tx *firestore.Transaction, ref *firestore.DocumentRef) (int, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading slot counter: %w", err)
	}
	return confirmedFrom(snap)
}

func confirmedFrom(snap *firestore.DocumentSnapshot) (int, error) {
	v, err := snap.DataAt("confirmed")
	if err != nil {
		return 0, fmt.Errorf("reading confirmed count: %w", err)
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("confirmed count has type %T", v)
	}
	return int(n), nil
}

// GetTeam retrieves a team by ID
func (f *FirestoreDB) GetTeam(ctx context.Context, id string) (*Team, error) {
	snap, err := f.client.Collection(teamsCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrTeamNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting team: %w", err)
	}
	return fromSnapshot(snap)
}

// ListTeams returns all teams ordered by registration time
func (f *FirestoreDB) ListTeams(ctx context.Context) ([]*Team, error) {
	iter := f.client.Collection(teamsCollection).OrderBy("created_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	teams := make([]*Team, 0)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing teams: %w", err)
		}
		team, err := fromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	sortTeams(teams)
	return teams, nil
}

// PaymentHashExists reports whether any team registered with hash
func (f *FirestoreDB) PaymentHashExists(ctx context.Context, hash string) (bool, error) {
	return f.fieldExists(ctx, "payment_hash", hash)
}

// TransactionIDExists reports whether any team registered with the transaction id
func (f *FirestoreDB) TransactionIDExists(ctx context.Context, id string) (bool, error) {
	return f.fieldExists(ctx, "transaction_id", id)
}

func (f *FirestoreDB) fieldExists(ctx context.Context, field, value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	docs, err := f.client.Collection(teamsCollection).Where(field, "==", value).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return false, fmt.Errorf("querying %s: %w", field, err)
	}
	return len(docs) > 0, nil
}

// CountConfirmed returns the number of non-waitlisted teams
func (f *FirestoreDB) CountConfirmed(ctx context.Context) (int, error) {
	snap, err := f.client.Collection(metaCollection).Doc(slotsDocument).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading slot counter: %w", err)
	}
	return confirmedFrom(snap)
}

// Ping reads the slot counter to check Firestore is reachable
func (f *FirestoreDB) Ping(ctx context.Context) error {
	_, err := f.client.Collection(metaCollection).Doc(slotsDocument).Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("pinging firestore: %w", err)
	}
	return nil
}

// Close closes the Firestore client
func (f *FirestoreDB) Close() error {
	return f.client.Close()
}

func toTeamDoc(team *Team) teamDoc {
	members := make([]memberDoc, len(team.Members))
	for i, m := range team.Members {
		members[i] = memberDoc{Name: m.Name, Email: m.Email, Phone: m.Phone, Meal: string(m.Meal)}
	}
	return teamDoc{
		TeamNumber:    team.TeamNumber,
		TeamName:      team.TeamName,
		Members:       members,
		TransactionID: team.TransactionID,
		PaymentHash:   team.PaymentHash,
		PaymentStatus: string(team.PaymentStatus),
		Confidence:    team.Confidence,
		Waitlisted:    team.Waitlisted,
		CreatedAt:     team.CreatedAt,
	}
}

func fromSnapshot(snap *firestore.DocumentSnapshot) (*Team, error) {
	var doc teamDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decoding team %s: %w", snap.Ref.ID, err)
	}
	members := make([]Member, len(doc.Members))
	for i, m := range doc.Members {
		members[i] = Member{Name: m.Name, Email: m.Email, Phone: m.Phone, Meal: MealPreference(m.Meal)}
	}
	return &Team{
		ID:            snap.Ref.ID,
		TeamNumber:    doc.TeamNumber,
		TeamName:      doc.TeamName,
		Members:       members,
		TransactionID: doc.TransactionID,
		PaymentHash:   doc.PaymentHash,
		PaymentStatus: verification.Status(doc.PaymentStatus),
		Confidence:    doc.Confidence,
		Waitlisted:    doc.Waitlisted,
		CreatedAt:     doc.CreatedAt,
	}, nil
}
