package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrZwaveNodeNotFound = errors.New("zwave node not found")

// ZwaveNode is a persisted snapshot of a Z-Wave node's protocol-level
// attributes, reloadable at startup without re-running discovery.
type ZwaveNode struct {
	NodeID                byte
	ProfileID             int64
	IsListening           bool
	IsRouting             bool
	ProtocolVersion       byte
	FrequentListeningMode bool
	SupportsBeaming       bool
	SupportsSecurity      bool
	GenericDeviceClass    byte
	SpecificDeviceClass   byte
	InterviewStatus       string
	LastSeen              *time.Time
}

// ZwaveNodeCommandClass is a persisted per-node Command Class entry.
type ZwaveNodeCommandClass struct {
	NodeID         byte
	CommandClassID byte
	IsSupported    bool
	IsControlled   bool
	IsSecure       bool
	Version        *int
}

// ZwaveNodeStore provides CRUD over the persisted Z-Wave node map.
type ZwaveNodeStore interface {
	Get(ctx context.Context, nodeID byte) (*ZwaveNode, error)
	List(ctx context.Context, profileID int64) ([]ZwaveNode, error)
	Upsert(ctx context.Context, n *ZwaveNode) error
	Delete(ctx context.Context, nodeID byte) error

	CommandClasses(ctx context.Context, nodeID byte) ([]ZwaveNodeCommandClass, error)
	ReplaceCommandClasses(ctx context.Context, nodeID byte, ccs []ZwaveNodeCommandClass) error
}

// ZwaveNodes returns a ZwaveNodeStore for this database.
func (db *DB) ZwaveNodes() ZwaveNodeStore {
	return &zwaveNodeStore{db: db}
}

type zwaveNodeStore struct {
	db *DB
}

func (s *zwaveNodeStore) Get(ctx context.Context, nodeID byte) (*ZwaveNode, error) {
	n := &ZwaveNode{}
	var lastSeen sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT node_id, profile_id, is_listening, is_routing, protocol_version,
		       frequent_listening_mode, supports_beaming, supports_security,
		       generic_device_class, specific_device_class, interview_status, last_seen
		FROM zwave_nodes WHERE node_id = ?
	`, nodeID).Scan(
		&n.NodeID, &n.ProfileID, &n.IsListening, &n.IsRouting, &n.ProtocolVersion,
		&n.FrequentListeningMode, &n.SupportsBeaming, &n.SupportsSecurity,
		&n.GenericDeviceClass, &n.SpecificDeviceClass, &n.InterviewStatus, &lastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, ErrZwaveNodeNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		t, err := time.Parse(time.DateTime, lastSeen.String)
		if err == nil {
			n.LastSeen = &t
		}
	}
	return n, nil
}

func (s *zwaveNodeStore) List(ctx context.Context, profileID int64) ([]ZwaveNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, profile_id, is_listening, is_routing, protocol_version,
		       frequent_listening_mode, supports_beaming, supports_security,
		       generic_device_class, specific_device_class, interview_status, last_seen
		FROM zwave_nodes WHERE profile_id = ? ORDER BY node_id
	`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []ZwaveNode
	for rows.Next() {
		var n ZwaveNode
		var lastSeen sql.NullString
		if err := rows.Scan(
			&n.NodeID, &n.ProfileID, &n.IsListening, &n.IsRouting, &n.ProtocolVersion,
			&n.FrequentListeningMode, &n.SupportsBeaming, &n.SupportsSecurity,
			&n.GenericDeviceClass, &n.SpecificDeviceClass, &n.InterviewStatus, &lastSeen,
		); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			t, err := time.Parse(time.DateTime, lastSeen.String)
			if err == nil {
				n.LastSeen = &t
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *zwaveNodeStore) Upsert(ctx context.Context, n *ZwaveNode) error {
	var lastSeen any
	if n.LastSeen != nil {
		lastSeen = n.LastSeen.UTC().Format(time.DateTime)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO zwave_nodes (
			node_id, profile_id, is_listening, is_routing, protocol_version,
			frequent_listening_mode, supports_beaming, supports_security,
			generic_device_class, specific_device_class, interview_status, last_seen, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(node_id) DO UPDATE SET
			is_listening = excluded.is_listening,
			is_routing = excluded.is_routing,
			protocol_version = excluded.protocol_version,
			frequent_listening_mode = excluded.frequent_listening_mode,
			supports_beaming = excluded.supports_beaming,
			supports_security = excluded.supports_security,
			generic_device_class = excluded.generic_device_class,
			specific_device_class = excluded.specific_device_class,
			interview_status = excluded.interview_status,
			last_seen = excluded.last_seen,
			updated_at = datetime('now')
	`,
		n.NodeID, n.ProfileID, n.IsListening, n.IsRouting, n.ProtocolVersion,
		n.FrequentListeningMode, n.SupportsBeaming, n.SupportsSecurity,
		n.GenericDeviceClass, n.SpecificDeviceClass, n.InterviewStatus, lastSeen,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert zwave node: %w", err)
	}
	return nil
}

func (s *zwaveNodeStore) Delete(ctx context.Context, nodeID byte) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM zwave_nodes WHERE node_id = ?`, nodeID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrZwaveNodeNotFound
	}
	return nil
}

func (s *zwaveNodeStore) CommandClasses(ctx context.Context, nodeID byte) ([]ZwaveNodeCommandClass, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, command_class_id, is_supported, is_controlled, is_secure, version
		FROM zwave_node_command_classes WHERE node_id = ? ORDER BY command_class_id
	`, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ccs []ZwaveNodeCommandClass
	for rows.Next() {
		var cc ZwaveNodeCommandClass
		var version sql.NullInt64
		if err := rows.Scan(&cc.NodeID, &cc.CommandClassID, &cc.IsSupported, &cc.IsControlled, &cc.IsSecure, &version); err != nil {
			return nil, err
		}
		if version.Valid {
			v := int(version.Int64)
			cc.Version = &v
		}
		ccs = append(ccs, cc)
	}
	return ccs, rows.Err()
}

// ReplaceCommandClasses overwrites the full Command Class set for a node in
// a single transaction, mirroring how a fresh interview replaces the
// in-memory set rather than merging into it.
func (s *zwaveNodeStore) ReplaceCommandClasses(ctx context.Context, nodeID byte, ccs []ZwaveNodeCommandClass) error {
	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM zwave_node_command_classes WHERE node_id = ?`, nodeID); err != nil {
			return fmt.Errorf("failed to clear command classes: %w", err)
		}
		for _, cc := range ccs {
			var version any
			if cc.Version != nil {
				version = *cc.Version
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO zwave_node_command_classes
					(node_id, command_class_id, is_supported, is_controlled, is_secure, version)
				VALUES (?, ?, ?, ?, ?, ?)
			`, nodeID, cc.CommandClassID, cc.IsSupported, cc.IsControlled, cc.IsSecure, version); err != nil {
				return fmt.Errorf("failed to insert command class: %w", err)
			}
		}
		return nil
	})
}
