// balancechain is the control CLI for one device's identity ledger: it
// opens the local store, loads or creates the device identity, and
// drives the commit, verification, quota, and capsule-minting paths
// that the internal packages implement as a library.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"balancechain/internal/caps"
	"balancechain/internal/capsules"
	"balancechain/internal/chain"
	"balancechain/internal/config"
	"balancechain/internal/identity"
	"balancechain/internal/integrity"
	"balancechain/internal/logging"
	"balancechain/internal/segment"
	"balancechain/internal/store"
)

var (
	configPath = flag.String("config", "", "path to config file")
	password   = flag.String("password", "", "backup password (falls back to BALANCECHAIN_PASSWORD)")
	signFlag   = flag.Bool("sign", false, "verify signatures during a full scan (verify command)")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	crash := setupLogging(loadConfig())
	crash.RecoverWithContext(map[string]interface{}{"command": cmd}, func() {
		dispatch(cmd, args)
	})
}

func dispatch(cmd string, args []string) {
	switch cmd {
	case "init":
		cmdInit()
	case "status":
		cmdStatus()
	case "commit":
		requireArgs(cmd, args, 2, "<type> <payload-json|@file>")
		cmdCommit(args[0], args[1])
	case "log":
		cmdLog(args)
	case "verify":
		cmdVerify()
	case "caps":
		cmdCaps()
	case "mint":
		requireArgs(cmd, args, 1, "<session.json>")
		cmdMint(args[0])
	case "similar":
		requireArgs(cmd, args, 1, "<candidate.json>")
		cmdSimilar(args[0])
	case "backup":
		requireArgs(cmd, args, 1, "<output-path>")
		cmdBackup(args[0])
	case "restore":
		requireArgs(cmd, args, 1, "<backup-path>")
		cmdRestore(args[0])
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// setupLogging builds the process-wide structured logger from the
// config's logging section and installs it as the default, plus a
// crash handler that dumps a report and exits nonzero instead of
// letting a panic print a bare Go stack trace to the user.
func setupLogging(cfg *config.Config) *logging.CrashHandler {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	format := logging.FormatText
	if cfg.Logging.Format == "json" {
		format = logging.FormatJSON
	}
	output := cfg.Logging.Output
	if output == "" {
		output = "stderr"
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.Format = format
	logCfg.Output = output
	logCfg.AddSource = cfg.Logging.AddSource
	if cfg.Logging.FilePath != "" {
		logCfg.FilePath = cfg.Logging.FilePath
	}
	if cfg.Logging.MaxSizeMB > 0 {
		logCfg.MaxSize = cfg.Logging.MaxSizeMB
	}
	if cfg.Logging.MaxAgeDays > 0 {
		logCfg.MaxAge = cfg.Logging.MaxAgeDays
	}
	if cfg.Logging.MaxBackups > 0 {
		logCfg.MaxBackups = cfg.Logging.MaxBackups
	}
	logCfg.Compress = cfg.Logging.Compress

	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: structured logging unavailable: %v\n", err)
	} else {
		logging.SetDefault(logger)
	}

	crash := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		Component: "balancechain",
		OnCrash: func(logging.CrashReport) {
			os.Exit(1)
		},
	})
	logging.SetDefaultCrashHandler(crash)
	return crash
}

func usage() {
	fmt.Fprintln(os.Stderr, `balancechain - control utility for a device's action ledger

Usage: balancechain [options] <command> [args]

Commands:
  init                       Create the local store and device identity
  status                     Show identity, chain head, caps, and TVM balance
  commit <type> <payload>    Append one signed segment (payload is JSON or @file)
  log [n]                    Print the last n segments (default: all)
  verify                     Run a full chain scan, latching read-only on corruption
  caps                       Show daily/monthly/yearly quota usage
  mint <session.json>        Score, create, and attempt to mint a capsule
  similar <session.json>     Compare a candidate session against minted capsules
  backup <path>               Export an encrypted identity backup
  restore <path>              Import an encrypted identity backup
  help                       Show this help message

Options:
  -config <path>    Path to config file
  -password <pass>  Backup password (falls back to BALANCECHAIN_PASSWORD)
  -sign             Verify signatures during "verify"`)
}

func requireArgs(cmd string, args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "Usage: balancechain %s %s\n", cmd, usage)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func openStore(cfg *config.Config) *store.DB {
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	return db
}

func openAudit() *logging.AuditLogger {
	audit, err := logging.NewAuditLogger(logging.DefaultAuditConfig())
	if err != nil {
		logging.Warn("audit log unavailable", "error", err)
		return nil
	}
	return audit
}

// auditSubscriber relays Chain's commit and read-only events to the
// audit log, keeping the domain packages themselves free of logging
// concerns (internal/chain takes no *logging.AuditLogger of its own).
type auditSubscriber struct {
	audit *logging.AuditLogger
	hid   string
}

func (s *auditSubscriber) OnCommit(e chain.Event) {
	if s.audit == nil {
		return
	}
	s.audit.LogCommit(context.Background(), s.hid, e.Seq, string(e.Type))
}

func (s *auditSubscriber) OnReadOnly(l chain.ReadOnlyLatch) {
	if s.audit == nil || !l.Enabled {
		return
	}
	s.audit.LogReadOnlyLatched(context.Background(), l.Reason)
}

// env bundles the opened resources most commands need: store, identity,
// accountant, and a chain ready to commit through.
type env struct {
	cfg   *config.Config
	db    *store.DB
	id    *identity.Identity
	acct  *caps.Accountant
	chain *chain.Chain
	audit *logging.AuditLogger
}

func open() *env {
	cfg := loadConfig()
	db := openStore(cfg)
	audit := openAudit()

	id, err := identity.LoadOrCreate(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading identity: %v\n", err)
		os.Exit(1)
	}
	logging.DefaultCrashHandler().SetHID(id.HID)

	acct := caps.NewWithLimits(db, cfg.Caps.Limits())
	c, err := chain.New(db, acct, id, chain.Options{SkipLiveness: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening chain: %v\n", err)
		os.Exit(1)
	}
	c.Subscribe(&auditSubscriber{audit: audit, hid: id.HID})

	if err := c.RebuildProjections(); err != nil {
		fmt.Fprintf(os.Stderr, "Error rebuilding projections: %v\n", err)
		os.Exit(1)
	}

	logging.Info("chain opened", "hid", id.HID, "store", cfg.Store.Path)
	return &env{cfg: cfg, db: db, id: id, acct: acct, chain: c, audit: audit}
}

func (e *env) close() {
	if e.audit != nil {
		e.audit.Close()
	}
	e.db.Close()
}

func backupPassword() string {
	if *password != "" {
		return *password
	}
	return os.Getenv("BALANCECHAIN_PASSWORD")
}

func cmdInit() {
	e := open()
	defer e.close()

	if e.audit != nil {
		e.audit.LogIdentityCreated(context.Background(), e.id.HID)
	}
	fmt.Printf("Identity:  %s\n", e.id.HID)
	fmt.Printf("Store:     %s\n", e.cfg.Store.Path)
	fmt.Println("Ready.")
}

func cmdStatus() {
	e := open()
	defer e.close()

	length, err := e.db.ChainLen()
	fatalOn(err)
	head, err := e.db.ChainHead()
	fatalOn(err)
	balance, err := e.db.GetTVMBalance(e.id.HID)
	fatalOn(err)
	unlocked, err := e.acct.UnlockedBalance(e.id.HID)
	fatalOn(err)

	fmt.Println("=== BalanceChain Status ===")
	fmt.Printf("Identity:        %s\n", e.id.HID)
	fmt.Printf("Chain length:    %d\n", length)
	fmt.Printf("Chain head:      %s\n", head)
	fmt.Printf("TVM balance:     %.2f\n", balance)
	fmt.Printf("Unlocked total:  %d\n", unlocked)
}

// payloadFor returns an empty, addressable payload value for typ, used
// as the json.Unmarshal target so commit validates the shape the
// protocol expects rather than forwarding arbitrary JSON unchecked.
func payloadFor(typ segment.Type) (any, error) {
	switch typ {
	case segment.TypeChatUser:
		return &segment.ChatUserPayload{}, nil
	case segment.TypeAIAdvice:
		return &segment.AIAdvicePayload{}, nil
	case segment.TypeBizDecision:
		return &segment.BizDecisionPayload{}, nil
	case segment.TypeBizOutcome:
		return &segment.BizOutcomePayload{}, nil
	case segment.TypeCapsuleMint:
		return &segment.CapsuleMintPayload{}, nil
	case segment.TypeTVMTransfer:
		return &segment.TVMTransferPayload{}, nil
	case segment.TypeChatLegacy:
		return &json.RawMessage{}, nil
	default:
		return nil, fmt.Errorf("unknown segment type %q", typ)
	}
}

func readJSONArg(arg string) ([]byte, error) {
	if strings.HasPrefix(arg, "@") {
		return os.ReadFile(arg[1:])
	}
	return []byte(arg), nil
}

func cmdCommit(typeArg, payloadArg string) {
	typ := segment.Type(typeArg)
	if !segment.ValidTypes[typ] {
		fmt.Fprintf(os.Stderr, "Unknown segment type: %s\n", typeArg)
		os.Exit(1)
	}

	raw, err := readJSONArg(payloadArg)
	fatalOn(err)

	payload, err := payloadFor(typ)
	fatalOn(err)
	if err := json.Unmarshal(raw, payload); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing payload: %v\n", err)
		os.Exit(1)
	}

	e := open()
	defer e.close()

	result, err := e.chain.Commit(typ, payload, chain.CommitOptions{})
	fatalOn(err)

	if !result.OK {
		if e.audit != nil {
			e.audit.LogCommitRejected(context.Background(), e.id.HID, result.Reason, result.Rule)
		}
		fmt.Fprintf(os.Stderr, "Rejected: rule %d: %s\n", result.Rule, result.Reason)
		os.Exit(1)
	}

	fmt.Printf("Committed seq=%d head=%s\n", result.Seq, result.Head)
}

func cmdLog(args []string) {
	e := open()
	defer e.close()

	all, err := e.db.AllSegments()
	fatalOn(err)

	limit := len(all)
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err == nil && n > 0 && n < limit {
			limit = n
		}
	}
	start := len(all) - limit

	for _, stored := range all[start:] {
		ts := time.UnixMilli(stored.TimestampMs).UTC().Format(time.RFC3339)
		fmt.Printf("%-6d %-22s %-20s %s\n", stored.Seq, stored.Type, ts, stored.BlockHash)
	}
}

func cmdVerify() {
	e := open()
	defer e.close()

	report, err := integrity.EnforceReadOnly(e.chain, func() (integrity.Report, error) {
		return integrity.FullScan(e.db, integrity.ScanOptions{VerifySignatures: *signFlag})
	})
	fatalOn(err)

	if e.audit != nil {
		e.audit.LogIntegrityScan(context.Background(), report.OK, len(report.Errors), len(report.Warnings))
	}

	fmt.Printf("Computed head: %s\n", report.ComputedHead)
	fmt.Printf("Stored head:   %s\n", report.StoredHead)
	fmt.Printf("Severity:      %s\n", report.Classify())
	for _, se := range report.Errors {
		fmt.Printf("  ERROR seq=%d %s: %s\n", se.Seq, se.Code, se.Message)
	}
	for _, w := range report.Warnings {
		fmt.Printf("  WARN  seq=%d: %s\n", w.Seq, w.Message)
	}
	if !report.OK {
		os.Exit(1)
	}
	fmt.Println("OK")
}

func cmdCaps() {
	e := open()
	defer e.close()

	current, err := e.acct.Current(e.id.HID)
	fatalOn(err)
	available, err := e.acct.Available(e.id.HID)
	fatalOn(err)
	unlocked, err := e.acct.UnlockedBalance(e.id.HID)
	fatalOn(err)

	fmt.Printf("Daily:    %d used, %d available\n", current.Daily, available.Daily)
	fmt.Printf("Monthly:  %d used, %d available\n", current.Monthly, available.Monthly)
	fmt.Printf("Yearly:   %d used, %d available\n", current.Yearly, available.Yearly)
	fmt.Printf("Lifetime: %d\n", current.Total)
	fmt.Printf("Unlocked: %d\n", unlocked)
}

// sessionFile is the input shape for mint/similar: a scored session
// transcript, upstream of what capsules.Create needs.
type sessionFile struct {
	SessionID string `json:"sessionId"`
	Messages  []struct {
		Text string `json:"text"`
	} `json:"messages"`
	Analysis struct {
		Motivator     string  `json:"motivator"`
		Category      string  `json:"category"`
		RichScore     float64 `json:"richScore"`
		BusinessScore float64 `json:"businessScore"`
		ECFScore      float64 `json:"ecfScore"`
	} `json:"analysis"`
}

func readSessionFile(path string) sessionFile {
	data, err := os.ReadFile(path)
	fatalOn(err)
	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing %s: %v\n", path, err)
		os.Exit(1)
	}
	return sf
}

func cmdMint(path string) {
	sf := readSessionFile(path)

	e := open()
	defer e.close()

	messages := make([]capsules.Message, len(sf.Messages))
	for i, m := range sf.Messages {
		messages[i] = capsules.Message{Text: m.Text}
	}

	capsule, reason, err := capsules.Create(e.db, capsules.CreateParams{
		ID:        uuid.NewString(),
		SessionID: sf.SessionID,
		OwnerHID:  e.id.HID,
		Messages:  messages,
		Analysis: capsules.Analysis{
			Motivator:     sf.Analysis.Motivator,
			Category:      sf.Analysis.Category,
			RichScore:     sf.Analysis.RichScore,
			BusinessScore: sf.Analysis.BusinessScore,
			ECFScore:      sf.Analysis.ECFScore,
		},
		CreatedAtMs: time.Now().UnixMilli(),
	})
	fatalOn(err)

	if capsule.Status != capsules.StatusPending {
		fmt.Printf("Capsule %s created but not eligible: %s\n", capsule.ID, reason)
		return
	}

	minted, err := capsules.Mint(capsules.MintParams{Chain: e.chain, DB: e.db, Capsule: capsule})
	fatalOn(err)

	if e.audit != nil {
		e.audit.LogCapsuleMinted(context.Background(), e.id.HID, minted.ID)
	}
	fmt.Printf("Minted capsule %s at seq=%d\n", minted.ID, *minted.MintSeq)
}

func cmdSimilar(path string) {
	sf := readSessionFile(path)

	e := open()
	defer e.close()

	candidate := capsules.Capsule{
		Motivator:     sf.Analysis.Motivator,
		Category:      sf.Analysis.Category,
		RichScore:     sf.Analysis.RichScore,
		BusinessScore: sf.Analysis.BusinessScore,
		ECFScore:      sf.Analysis.ECFScore,
	}

	rows, err := e.db.MintedCapsulesForOwner(e.id.HID)
	fatalOn(err)

	minted := make([]capsules.Capsule, len(rows))
	for i, r := range rows {
		minted[i] = capsules.Capsule{
			ID: r.ID, SessionID: r.SessionID, OwnerHID: r.OwnerHID,
			RichScore: r.RichScore, BusinessScore: r.BusinessScore, ECFScore: r.ECFScore,
			Motivator: r.Motivator, Category: r.Category, ContentHash: r.ContentHash,
			Status: r.Status, CreatedAtMs: r.CreatedAtMs, MintSeq: r.MintSeq,
		}
	}

	best, score := capsules.MostSimilar(candidate, minted)
	if score == 0 {
		fmt.Println("No minted capsules to compare against.")
		return
	}
	fmt.Printf("Most similar: %s (score=%.3f)\n", best.ID, score)
	if score >= capsules.SimilarityThreshold {
		fmt.Println("Above recyclability threshold.")
	}
}

func cmdBackup(path string) {
	pass := backupPassword()
	if pass == "" {
		fmt.Fprintln(os.Stderr, "Error: a password is required (-password or BALANCECHAIN_PASSWORD)")
		os.Exit(1)
	}

	e := open()
	defer e.close()

	encoded, err := e.id.ExportBackup(pass)
	fatalOn(err)

	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing backup: %v\n", err)
		os.Exit(1)
	}

	if e.audit != nil {
		e.audit.LogBackupExport(context.Background(), e.id.HID, path)
	}
	fmt.Printf("Backup written to %s\n", path)
}

func cmdRestore(path string) {
	pass := backupPassword()
	if pass == "" {
		fmt.Fprintln(os.Stderr, "Error: a password is required (-password or BALANCECHAIN_PASSWORD)")
		os.Exit(1)
	}

	data, err := os.ReadFile(path)
	fatalOn(err)

	restored, err := identity.ImportBackup(pass, string(data))
	if err != nil {
		if e := openAudit(); e != nil {
			e.LogBackupImport(context.Background(), "", path, false)
		}
		fmt.Fprintf(os.Stderr, "Error importing backup: %v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig()
	db := openStore(cfg)
	defer db.Close()
	audit := openAudit()
	if audit != nil {
		defer audit.Close()
	}

	length, err := db.ChainLen()
	fatalOn(err)
	head, err := db.ChainHead()
	fatalOn(err)

	// The exported backup carries only the identity keypair, not a
	// segment history, so the only safe restore target is a chain that
	// has not yet started; anything else needs a sync first.
	decision := integrity.CanRestore(length, head, 0, "")
	if !decision.CanRestore {
		if audit != nil {
			audit.LogBackupImport(context.Background(), restored.HID, path, false)
		}
		fmt.Fprintf(os.Stderr, "Refusing to restore: %s\n", decision.Reason)
		os.Exit(1)
	}

	raw, err := restored.ToStoreRecord()
	fatalOn(err)
	if err := db.PutIdentity(raw); err != nil {
		fmt.Fprintf(os.Stderr, "Error persisting identity: %v\n", err)
		os.Exit(1)
	}

	if audit != nil {
		audit.LogBackupImport(context.Background(), restored.HID, path, true)
	}
	fmt.Printf("Restored identity %s\n", restored.HID)
}

func fatalOn(err error) {
	if err != nil {
		logging.Error("command failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
