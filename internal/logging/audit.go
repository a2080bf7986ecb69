// Package logging provides structured logging with slog for BalanceChain.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

// Audit event types.
const (
	AuditEventIdentityCreated AuditEventType = "identity_created"
	AuditEventKeyAccess       AuditEventType = "key_access"
	AuditEventCommit          AuditEventType = "commit"
	AuditEventCommitRejected  AuditEventType = "commit_rejected"
	AuditEventCapExceeded     AuditEventType = "cap_exceeded"
	AuditEventCapsuleMinted   AuditEventType = "capsule_minted"
	AuditEventIntegrityScan   AuditEventType = "integrity_scan"
	AuditEventReadOnlyLatched AuditEventType = "read_only_latched"
	AuditEventBackupExport    AuditEventType = "backup_export"
	AuditEventBackupImport    AuditEventType = "backup_import"
	AuditEventError           AuditEventType = "error"
	AuditEventStartup         AuditEventType = "startup"
	AuditEventShutdown        AuditEventType = "shutdown"
)

// AuditEvent represents a security-relevant event.
type AuditEvent struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  AuditEventType         `json:"event_type"`
	Component  string                 `json:"component"`
	HID        string                 `json:"hid,omitempty"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource,omitempty"`
	Result     string                 `json:"result"` // "success", "failure", "denied"
	Details    map[string]interface{} `json:"details,omitempty"`
	SourceFile string                 `json:"source_file,omitempty"`
	SourceLine int                    `json:"source_line,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// AuditLoggerConfig holds configuration for the audit logger.
type AuditLoggerConfig struct {
	// FilePath is the path to the audit log file.
	FilePath string

	// MaxSize is the maximum size in MB before rotation.
	MaxSize int64

	// MaxAge is the maximum age in days before deletion.
	MaxAge int

	// MaxBackups is the maximum number of rotated files to keep.
	MaxBackups int

	// Compress determines if rotated logs should be compressed.
	Compress bool

	// Component is the component name for audit events.
	Component string
}

// DefaultAuditConfig returns default audit logger configuration.
func DefaultAuditConfig() *AuditLoggerConfig {
	return &AuditLoggerConfig{
		FilePath:   defaultAuditLogPath(),
		MaxSize:    50, // 50 MB
		MaxAge:     90, // 90 days
		MaxBackups: 10,
		Compress:   true,
		Component:  "balancechain",
	}
}

// defaultAuditLogPath returns the platform-specific default audit log path.
func defaultAuditLogPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "balancechain", "audit.log")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "balancechain", "logs", "audit.log")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "balancechain", "audit.log")
	}
}

// AuditLogger handles security audit logging.
type AuditLogger struct {
	config *AuditLoggerConfig
	rotator *FileRotator
	logger  *slog.Logger
	mu      sync.Mutex
}

var (
	defaultAuditLogger *AuditLogger
	auditLoggerOnce    sync.Once
)

// DefaultAuditLogger returns the default global audit logger.
func DefaultAuditLogger() *AuditLogger {
	auditLoggerOnce.Do(func() {
		var err error
		defaultAuditLogger, err = NewAuditLogger(DefaultAuditConfig())
		if err != nil {
			defaultAuditLogger = &AuditLogger{
				config: DefaultAuditConfig(),
				logger: slog.Default(),
			}
		}
	})
	return defaultAuditLogger
}

// SetDefaultAuditLogger sets the default global audit logger.
func SetDefaultAuditLogger(l *AuditLogger) {
	defaultAuditLogger = l
}

// NewAuditLogger creates a new AuditLogger.
func NewAuditLogger(cfg *AuditLoggerConfig) (*AuditLogger, error) {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}

	rotatorCfg := &Config{
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		Format:     FormatJSON,
		Level:      LevelInfo,
	}

	rotator, err := NewFileRotator(rotatorCfg)
	if err != nil {
		return nil, fmt.Errorf("create audit rotator: %w", err)
	}

	handler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: LevelInfo})

	return &AuditLogger{
		config:  cfg,
		rotator: rotator,
		logger:  slog.New(handler),
	}, nil
}

// Log writes an audit event.
func (a *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Component == "" {
		event.Component = a.config.Component
	}
	if event.SourceFile == "" {
		_, file, line, ok := runtime.Caller(1)
		if ok {
			event.SourceFile = file
			event.SourceLine = line
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	data = append(data, '\n')
	if _, err := a.rotator.Write(data); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// LogIdentityCreated logs the creation of a local identity keypair.
func (a *AuditLogger) LogIdentityCreated(ctx context.Context, hid string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventIdentityCreated,
		Action:    "identity_created",
		HID:       hid,
		Result:    "success",
	})
}

// LogKeyAccess logs an access to the identity's private key material.
func (a *AuditLogger) LogKeyAccess(ctx context.Context, hid, operation string, success bool) error {
	result := "success"
	if !success {
		result = "failure"
	}
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventKeyAccess,
		Action:    operation,
		HID:       hid,
		Result:    result,
	})
}

// LogCommit logs a successful segment commit.
func (a *AuditLogger) LogCommit(ctx context.Context, hid string, seq int64, typ string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventCommit,
		Action:    "segment_committed",
		HID:       hid,
		Resource:  typ,
		Result:    "success",
		Details:   map[string]interface{}{"seq": seq},
	})
}

// LogCommitRejected logs a commit rejected by the validator.
func (a *AuditLogger) LogCommitRejected(ctx context.Context, hid, reason string, rule int) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventCommitRejected,
		Action:    "segment_rejected",
		HID:       hid,
		Result:    "denied",
		Details:   map[string]interface{}{"reason": reason, "rule": rule},
	})
}

// LogCapExceeded logs a quota rejection.
func (a *AuditLogger) LogCapExceeded(ctx context.Context, hid, period string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventCapExceeded,
		Action:    "cap_exceeded",
		HID:       hid,
		Resource:  period,
		Result:    "denied",
	})
}

// LogCapsuleMinted logs a successful capsule mint.
func (a *AuditLogger) LogCapsuleMinted(ctx context.Context, hid, capsuleID string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventCapsuleMinted,
		Action:    "capsule_minted",
		HID:       hid,
		Resource:  capsuleID,
		Result:    "success",
	})
}

// LogIntegrityScan logs the outcome of a full chain scan.
func (a *AuditLogger) LogIntegrityScan(ctx context.Context, ok bool, errorCount, warningCount int) error {
	result := "success"
	if !ok {
		result = "failure"
	}
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventIntegrityScan,
		Action:    "integrity_scan",
		Result:    result,
		Details:   map[string]interface{}{"errors": errorCount, "warnings": warningCount},
	})
}

// LogReadOnlyLatched logs the chain being forced read-only.
func (a *AuditLogger) LogReadOnlyLatched(ctx context.Context, reason string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventReadOnlyLatched,
		Action:    "read_only_latched",
		Result:    "denied",
		Details:   map[string]interface{}{"reason": reason},
	})
}

// LogBackupExport logs an encrypted identity backup export.
func (a *AuditLogger) LogBackupExport(ctx context.Context, hid, path string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventBackupExport,
		Action:    "backup_exported",
		HID:       hid,
		Resource:  path,
		Result:    "success",
	})
}

// LogBackupImport logs an encrypted identity backup import.
func (a *AuditLogger) LogBackupImport(ctx context.Context, hid, path string, success bool) error {
	result := "success"
	if !success {
		result = "failure"
	}
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventBackupImport,
		Action:    "backup_imported",
		HID:       hid,
		Resource:  path,
		Result:    result,
	})
}

// LogError logs an error event.
func (a *AuditLogger) LogError(ctx context.Context, operation string, err error, details map[string]interface{}) error {
	if details == nil {
		details = make(map[string]interface{})
	}
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventError,
		Action:    operation,
		Result:    "failure",
		Error:     err.Error(),
		Details:   details,
	})
}

// LogStartup logs process startup.
func (a *AuditLogger) LogStartup(ctx context.Context, version string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventStartup,
		Action:    "started",
		Result:    "success",
		Details:   map[string]interface{}{"version": version},
	})
}

// LogShutdown logs process shutdown.
func (a *AuditLogger) LogShutdown(ctx context.Context, reason string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventShutdown,
		Action:    "stopped",
		Result:    "success",
		Details:   map[string]interface{}{"reason": reason},
	})
}

// Close closes the audit logger.
func (a *AuditLogger) Close() error {
	if a.rotator != nil {
		return a.rotator.Close()
	}
	return nil
}

// Sync flushes any buffered audit events.
func (a *AuditLogger) Sync() error {
	if a.rotator != nil {
		return a.rotator.Sync()
	}
	return nil
}

// Audit logs an audit event using the default audit logger.
func Audit(ctx context.Context, event AuditEvent) error {
	return DefaultAuditLogger().Log(ctx, event)
}

// AuditError logs an error using the default audit logger.
func AuditError(ctx context.Context, operation string, err error, details map[string]interface{}) error {
	return DefaultAuditLogger().LogError(ctx, operation, err, details)
}
