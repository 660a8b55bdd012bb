package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrAlertGone indicates the alert row no longer exists; the definition
	// was removed externally after the engine listed it.
	ErrAlertGone = errors.New("storage: alert no longer exists")
)

const (
	listActiveAlertsSQL = `SELECT
        id,
        owner_key,
        symbol,
        kind,
        window_minutes,
        threshold_percent,
        active,
        created_at,
        last_triggered_at
    FROM alerts
    WHERE active
    ORDER BY symbol, kind, id;`

	recordTriggerSQL = `UPDATE alerts
    SET last_triggered_at = $2
    WHERE id = $1;`

	insertAlertEventSQL = `INSERT INTO alert_events (
        alert_id,
        owner_key,
        symbol,
        kind,
        threshold_percent,
        move_percent,
        price,
        ref_price,
        notification_sent,
        error,
        triggered_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    RETURNING id;`

	listRecentEventsSQL = `SELECT
        id,
        alert_id,
        owner_key,
        symbol,
        kind,
        threshold_percent,
        move_percent,
        price,
        ref_price,
        notification_sent,
        error,
        triggered_at
    FROM alert_events
    ORDER BY triggered_at DESC
    LIMIT $1;`

	insertSnapshotSQL = `INSERT INTO price_snapshots (
        symbol,
        ticker,
        price,
        open_price,
        prev_close,
        market_phase,
        taken_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (symbol, taken_at) DO NOTHING;`

	listSnapshotsBetweenSQL = `SELECT
        id,
        symbol,
        ticker,
        price,
        open_price,
        prev_close,
        market_phase,
        taken_at,
        created_at
    FROM price_snapshots
    WHERE symbol = $1
      AND taken_at >= $2
      AND taken_at < $3
    ORDER BY taken_at;`

	listRecentSnapshotsSQL = `SELECT
        id,
        symbol,
        ticker,
        price,
        open_price,
        prev_close,
        market_phase,
        taken_at,
        created_at
    FROM price_snapshots
    WHERE symbol = $1
    ORDER BY taken_at DESC
    LIMIT $2;`

	deleteSnapshotsBeforeSQL = `DELETE FROM price_snapshots WHERE taken_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertRepository is the engine's boundary to externally-owned alert rows.
type AlertRepository interface {
	ListActiveAlerts(ctx context.Context) ([]Alert, error)
	RecordTrigger(ctx context.Context, alertID int64, at time.Time) error
}

// EventStore persists notification audit rows.
type EventStore interface {
	InsertAlertEvent(ctx context.Context, event AlertEvent) (AlertEvent, error)
	ListRecentEvents(ctx context.Context, limit int) ([]AlertEvent, error)
}

// SnapshotStore persists intraday price observations.
type SnapshotStore interface {
	InsertSnapshots(ctx context.Context, snapshots []Snapshot) error
	ListSnapshotsBetween(ctx context.Context, symbol string, from, to time.Time) ([]Snapshot, error)
	ListRecentSnapshots(ctx context.Context, symbol string, limit int) ([]Snapshot, error)
	DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to alerts, events, and snapshots.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ListActiveAlerts returns every active alert definition.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]Alert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// RecordTrigger durably stamps last_triggered_at for the cooldown gate.
// Returns ErrAlertGone when the alert was deleted since listing.
func (s *Store) RecordTrigger(ctx context.Context, alertID int64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, recordTriggerSQL, alertID, at)
	if execErr != nil {
		return fmt.Errorf("record trigger for alert %d: %w", alertID, execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrAlertGone
	}
	return nil
}

// InsertAlertEvent persists one notification audit row.
func (s *Store) InsertAlertEvent(ctx context.Context, event AlertEvent) (AlertEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertEvent{}, err
	}

	var errMsg interface{}
	if event.Error != nil {
		errMsg = *event.Error
	}

	row := pool.QueryRow(ctx, insertAlertEventSQL,
		event.AlertID,
		event.OwnerKey,
		event.Symbol,
		string(event.Kind),
		event.ThresholdPercent.String(),
		event.MovePercent.String(),
		event.Price.String(),
		event.RefPrice.String(),
		event.NotificationSent,
		errMsg,
		event.TriggeredAt,
	)
	if scanErr := row.Scan(&event.ID); scanErr != nil {
		return AlertEvent{}, fmt.Errorf("insert alert event: %w", scanErr)
	}
	return event, nil
}

// ListRecentEvents lists the most recent alert events.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]AlertEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]AlertEvent, 0, limit)
	for rows.Next() {
		event, scanErr := scanAlertEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// InsertSnapshots persists a batch of intraday snapshots.
func (s *Store) InsertSnapshots(ctx context.Context, snapshots []Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		batch.Queue(insertSnapshotSQL,
			snap.Symbol,
			snap.Ticker,
			snap.Price.String(),
			snap.Open.String(),
			snap.PrevClose.String(),
			snap.MarketPhase,
			snap.TakenAt,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range snapshots {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("insert snapshots: %w", execErr)
		}
	}
	return nil
}

// ListSnapshotsBetween lists snapshots for a symbol within a time window.
func (s *Store) ListSnapshotsBetween(ctx context.Context, symbol string, from, to time.Time) ([]Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// ListRecentSnapshots lists the latest snapshots for a symbol.
func (s *Store) ListRecentSnapshots(ctx context.Context, symbol string, limit int) ([]Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, symbol, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// DeleteSnapshotsBefore prunes snapshots past retention.
func (s *Store) DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteSnapshotsBeforeSQL, cutoff)
	if execErr != nil {
		return 0, fmt.Errorf("delete snapshots before %s: %w", cutoff.Format(time.RFC3339), execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; the session drop releases it anyway
		}
		conn.Release()
	}
	return unlock, true, nil
}

func scanAlert(rows pgx.Rows) (Alert, error) {
	var (
		alert     Alert
		kind      string
		threshold string
		lastAt    *time.Time
	)
	if err := rows.Scan(
		&alert.ID,
		&alert.OwnerKey,
		&alert.Symbol,
		&kind,
		&alert.WindowMinutes,
		&threshold,
		&alert.Active,
		&alert.CreatedAt,
		&lastAt,
	); err != nil {
		return Alert{}, fmt.Errorf("scan alert: %w", err)
	}

	parsedKind, err := ParseKind(kind)
	if err != nil {
		return Alert{}, fmt.Errorf("scan alert %d: %w", alert.ID, err)
	}
	alert.Kind = parsedKind

	parsedThreshold, err := decimal.NewFromString(threshold)
	if err != nil {
		return Alert{}, fmt.Errorf("scan alert %d threshold: %w", alert.ID, err)
	}
	alert.ThresholdPercent = parsedThreshold
	alert.LastTriggeredAt = lastAt
	return alert, nil
}

func scanAlertEvent(rows pgx.Rows) (AlertEvent, error) {
	var (
		event     AlertEvent
		kind      string
		threshold string
		move      string
		price     string
		refPrice  string
		errMsg    *string
	)
	if err := rows.Scan(
		&event.ID,
		&event.AlertID,
		&event.OwnerKey,
		&event.Symbol,
		&kind,
		&threshold,
		&move,
		&price,
		&refPrice,
		&event.NotificationSent,
		&errMsg,
		&event.TriggeredAt,
	); err != nil {
		return AlertEvent{}, fmt.Errorf("scan alert event: %w", err)
	}

	event.Kind = Kind(kind)
	event.Error = errMsg

	var convErr error
	if event.ThresholdPercent, convErr = decimal.NewFromString(threshold); convErr != nil {
		return AlertEvent{}, fmt.Errorf("scan alert event threshold: %w", convErr)
	}
	if event.MovePercent, convErr = decimal.NewFromString(move); convErr != nil {
		return AlertEvent{}, fmt.Errorf("scan alert event move: %w", convErr)
	}
	if event.Price, convErr = decimal.NewFromString(price); convErr != nil {
		return AlertEvent{}, fmt.Errorf("scan alert event price: %w", convErr)
	}
	if event.RefPrice, convErr = decimal.NewFromString(refPrice); convErr != nil {
		return AlertEvent{}, fmt.Errorf("scan alert event ref price: %w", convErr)
	}
	return event, nil
}

func collectSnapshots(rows pgx.Rows) ([]Snapshot, error) {
	snapshots := make([]Snapshot, 0)
	for rows.Next() {
		var (
			snap      Snapshot
			price     string
			openPrice string
			prevClose string
		)
		if err := rows.Scan(
			&snap.ID,
			&snap.Symbol,
			&snap.Ticker,
			&price,
			&openPrice,
			&prevClose,
			&snap.MarketPhase,
			&snap.TakenAt,
			&snap.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}

		var convErr error
		if snap.Price, convErr = decimal.NewFromString(price); convErr != nil {
			return nil, fmt.Errorf("scan snapshot price: %w", convErr)
		}
		if snap.Open, convErr = decimal.NewFromString(openPrice); convErr != nil {
			return nil, fmt.Errorf("scan snapshot open: %w", convErr)
		}
		if snap.PrevClose, convErr = decimal.NewFromString(prevClose); convErr != nil {
			return nil, fmt.Errorf("scan snapshot prev close: %w", convErr)
		}
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

var _ AlertRepository = (*Store)(nil)
var _ EventStore = (*Store)(nil)
var _ SnapshotStore = (*Store)(nil)
var _ AdvisoryLocker = (*Store)(nil)
