// Package journal persists submitted actions and every state they pass
// through so clients can poll an action by id after the request returned.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"goldlend/services/planner"
	"goldlend/services/wallet"
)

var ErrNotFound = errors.New("journal: action not found")

// Action is the latest known state of one submitted intent.
type Action struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Intent         string    `gorm:"size:32;index"`
	Account        string    `gorm:"size:42;index"`
	Status         string    `gorm:"size:16;index"`
	TxHash         string    `gorm:"size:66"`
	ErrorCode      string    `gorm:"size:32"`
	ErrorMessage   string    `gorm:"size:256"`
	ErrorDetails   string    `gorm:"size:2048"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StateUpdatedAt time.Time
}

// Transition is one observed state of an action.
type Transition struct {
	ID        uint      `gorm:"primaryKey"`
	ActionID  uuid.UUID `gorm:"type:uuid;index"`
	Status    string    `gorm:"size:16"`
	TxHash    string    `gorm:"size:66"`
	ErrorCode string    `gorm:"size:32"`
	At        time.Time
}

// State renders the stored row as a wallet state.
func (a Action) State() wallet.State {
	state := wallet.State{Status: wallet.Status(a.Status), UpdatedAt: a.StateUpdatedAt}
	if a.TxHash != "" {
		hash := common.HexToHash(a.TxHash)
		state.Hash = &hash
	}
	if a.ErrorCode != "" {
		state.Error = &wallet.Classified{
			Code:    wallet.ErrorCode(a.ErrorCode),
			Message: a.ErrorMessage,
			Details: a.ErrorDetails,
		}
	}
	return state
}

// AutoMigrate creates or updates the journal tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Action{}, &Transition{})
}

// Open connects to the configured driver and migrates the schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return db, nil
}

// Journal records action lifecycles.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// New wraps a migrated database handle.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Journal{db: db, logger: log, now: time.Now}, nil
}

// Create registers a new idle action and returns it.
func (j *Journal) Create(ctx context.Context, intent planner.Intent, account common.Address) (Action, error) {
	now := j.now().UTC()
	action := Action{
		ID:             uuid.New(),
		Intent:         string(intent),
		Account:        strings.ToLower(account.Hex()),
		Status:         string(wallet.StatusIdle),
		CreatedAt:      now,
		UpdatedAt:      now,
		StateUpdatedAt: now,
	}
	if err := j.db.WithContext(ctx).Create(&action).Error; err != nil {
		return Action{}, fmt.Errorf("journal: create action: %w", err)
	}
	return action, nil
}

// Record stores state as the latest state of the action and appends it to
// the transition log.
func (j *Journal) Record(ctx context.Context, id uuid.UUID, state wallet.State) error {
	updates := map[string]any{
		"status":           string(state.Status),
		"state_updated_at": state.UpdatedAt.UTC(),
		"updated_at":       j.now().UTC(),
	}
	transition := Transition{ActionID: id, Status: string(state.Status), At: state.UpdatedAt.UTC()}
	if state.Hash != nil {
		updates["tx_hash"] = state.Hash.Hex()
		transition.TxHash = state.Hash.Hex()
	}
	if state.Error != nil {
		updates["error_code"] = string(state.Error.Code)
		updates["error_message"] = state.Error.Message
		updates["error_details"] = truncate(state.Error.Details, 2048)
		transition.ErrorCode = string(state.Error.Code)
	}
	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Action{}).Where("id = ?", id).Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("journal: update action: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Create(&transition).Error; err != nil {
			return fmt.Errorf("journal: append transition: %w", err)
		}
		return nil
	})
}

// Observer adapts Record to the runner's callback. Failures are logged; a
// journal outage never aborts a submission.
func (j *Journal) Observer(ctx context.Context, id uuid.UUID) wallet.Observer {
	ctx = context.WithoutCancel(ctx)
	return func(state wallet.State) {
		if err := j.Record(ctx, id, state); err != nil {
			j.logger.Error("journal record failed",
				slog.String("action", id.String()),
				slog.String("status", string(state.Status)),
				slog.Any("error", err))
		}
	}
}

// Get loads an action by id.
func (j *Journal) Get(ctx context.Context, id uuid.UUID) (Action, error) {
	var action Action
	err := j.db.WithContext(ctx).First(&action, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Action{}, ErrNotFound
	}
	if err != nil {
		return Action{}, fmt.Errorf("journal: load action: %w", err)
	}
	return action, nil
}

// Transitions returns the states an action passed through, oldest first.
func (j *Journal) Transitions(ctx context.Context, id uuid.UUID) ([]Transition, error) {
	var out []Transition
	if err := j.db.WithContext(ctx).Where("action_id = ?", id).Order("id asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("journal: load transitions: %w", err)
	}
	return out, nil
}

// Recent lists the newest actions of an account.
func (j *Journal) Recent(ctx context.Context, account common.Address, limit int) ([]Action, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []Action
	err := j.db.WithContext(ctx).
		Where("account = ?", strings.ToLower(account.Hex())).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("journal: list actions: %w", err)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
