package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/waanverse/waanauth"
)

// DeviceStore implements waanauth.DeviceStore on the devices table.
type DeviceStore struct {
	db      DB
	builder squirrel.StatementBuilderType
}

// NewDeviceStore wires a device store on db.
func NewDeviceStore(db DB) *DeviceStore {
	return &DeviceStore{db: db, builder: statementBuilder()}
}

// SaveDevice upserts the device row; a known device keeps its created_at.
func (s *DeviceStore) SaveDevice(ctx context.Context, device *waanauth.Device) error {
	createdAt := device.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	stmt, args, err := s.builder.Insert("devices").
		Columns("device_id", "identity_id", "ip_address", "user_agent", "platform", "created_at").
		Values(device.DeviceID, device.IdentityID, device.IPAddress, device.UserAgent, device.Platform, createdAt).
		Suffix(`ON CONFLICT (device_id) DO UPDATE SET
	identity_id = EXCLUDED.identity_id,
	ip_address = EXCLUDED.ip_address,
	user_agent = EXCLUDED.user_agent,
	platform = EXCLUDED.platform`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert device sql: %w", err)
	}
	if _, err := s.db.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}
