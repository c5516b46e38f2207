package idempotency

import (
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gorm.io/gorm"
)

// BeginState is the outcome of a Begin call.
type BeginState int

const (
	// StateNew: no prior record, a PROCESSING record was created and
	// the caller owns the execution.
	StateNew BeginState = iota
	// StateInFlight: a PROCESSING record already exists within its
	// abandonment window; the caller must reject as a concurrent
	// duplicate, not retry the business logic.
	StateInFlight
	// StateReplayed: a DONE record exists; Response carries the stored
	// payload to return verbatim.
	StateReplayed
)

// BeginResult is returned from Begin.
type BeginResult struct {
	State    BeginState
	Response []byte
}

// payloadVersion tags stored responses so replays remain decodable if
// the response shape evolves.
const payloadVersion = 1

type envelope struct {
	Version int             `json:"version"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

// Store is the durable record of in-flight and completed requests,
// keyed by (account, scope, client key).
//
// A record left PROCESSING by a crash blocks retries with the same key
// until processingTTL elapses, at which point it is treated as
// abandoned and re-created. This is the deliberate conservative
// trade-off: a too-eager TTL risks double execution, never recovering
// blocks a legitimate retry forever.
type Store struct {
	db            *gorm.DB
	processingTTL time.Duration
	doneTTL       time.Duration
}

func NewStore(db *gorm.DB, processingTTL, doneTTL time.Duration) *Store {
	if processingTTL <= 0 {
		processingTTL = 15 * time.Minute
	}
	if doneTTL <= 0 {
		doneTTL = 24 * time.Hour
	}
	return &Store{db: db, processingTTL: processingTTL, doneTTL: doneTTL}
}

// Begin claims the (account, scope, key) slot. On first call it creates
// a PROCESSING record and reports StateNew. On a uniqueness conflict it
// re-reads the existing record: DONE yields the stored response,
// PROCESSING within the abandonment window yields StateInFlight. A
// record that vanished between the conflict and the re-read, or one
// past its window, is re-claimed as new.
func (s *Store) Begin(accountID int64, clientKey, scope string) (*BeginResult, error) {
	for attempt := 0; attempt < 2; attempt++ {
		record := Record{
			AccountID: accountID,
			Scope:     scope,
			ClientKey: clientKey,
			State:     StateProcessing,
			ExpiresAt: time.Now().Add(s.doneTTL),
		}
		err := s.db.Create(&record).Error
		if err == nil {
			return &BeginResult{State: StateNew}, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("create idempotency record: %w", err)
		}

		var existing Record
		err = s.db.Where("account_id = ? AND scope = ? AND client_key = ?",
			accountID, scope, clientKey).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Deleted between the conflict and the re-read; claim it.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read idempotency record: %w", err)
		}

		switch existing.State {
		case StateDone:
			if time.Now().After(existing.ExpiresAt) {
				if err := s.deleteRecord(existing.ID); err != nil {
					return nil, err
				}
				continue
			}
			return &BeginResult{State: StateReplayed, Response: existing.Response}, nil
		case StateProcessing:
			if time.Since(existing.UpdatedAt) > s.processingTTL {
				// Abandoned by a crashed execution; reclaim.
				if err := s.deleteProcessing(existing.ID); err != nil {
					return nil, err
				}
				continue
			}
			return &BeginResult{State: StateInFlight}, nil
		default:
			return nil, fmt.Errorf("idempotency record %d in unknown state %q", existing.ID, existing.State)
		}
	}
	return &BeginResult{State: StateInFlight}, nil
}

// End transitions PROCESSING to DONE and stores the response payload.
// The payload is wrapped in a versioned envelope so it stays decodable
// across response-shape changes. End is designed to be the last
// statement of an execution; failing here leaves the record PROCESSING.
func (s *Store) End(accountID int64, clientKey, scope, kind string, response interface{}) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal idempotency response: %w", err)
	}
	blob, err := json.Marshal(envelope{Version: payloadVersion, Kind: kind, Data: data})
	if err != nil {
		return fmt.Errorf("marshal idempotency envelope: %w", err)
	}

	result := s.db.Model(&Record{}).
		Where("account_id = ? AND scope = ? AND client_key = ? AND state = ?",
			accountID, scope, clientKey, StateProcessing).
		Updates(map[string]interface{}{
			"state":    StateDone,
			"response": blob,
		})
	if result.Error != nil {
		return fmt.Errorf("complete idempotency record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.New("idempotency record not in PROCESSING state")
	}
	return nil
}

// Abort releases a PROCESSING claim after a failed execution so the
// caller can retry with the same key. A no-op if the record already
// moved to DONE.
func (s *Store) Abort(accountID int64, clientKey, scope string) error {
	result := s.db.Unscoped().
		Where("account_id = ? AND scope = ? AND client_key = ? AND state = ?",
			accountID, scope, clientKey, StateProcessing).
		Delete(&Record{})
	if result.Error != nil {
		return fmt.Errorf("abort idempotency record: %w", result.Error)
	}
	return nil
}

// Decode unwraps a stored response payload into out.
func Decode(blob []byte, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return fmt.Errorf("decode idempotency envelope: %w", err)
	}
	if env.Version != payloadVersion {
		return fmt.Errorf("unsupported idempotency payload version %d", env.Version)
	}
	return json.Unmarshal(env.Data, out)
}

func (s *Store) deleteRecord(id uint) error {
	if err := s.db.Unscoped().Delete(&Record{}, id).Error; err != nil {
		return fmt.Errorf("delete expired idempotency record: %w", err)
	}
	return nil
}

func (s *Store) deleteProcessing(id uint) error {
	result := s.db.Unscoped().Where("id = ? AND state = ?", id, StateProcessing).Delete(&Record{})
	if result.Error != nil {
		return fmt.Errorf("delete abandoned idempotency record: %w", result.Error)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
