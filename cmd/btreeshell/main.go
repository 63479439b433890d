// Command btreeshell is a readline REPL over a single index, for poking at
// the engine by hand: create records, fetch them back, scan a range, and
// run the structural validator, all against files on disk that survive
// between runs via a checkpoint.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tuannm99/btreeidx/internal"
	"github.com/tuannm99/btreeidx/internal/btree"
	"github.com/tuannm99/btreeidx/internal/mtr"
	"github.com/tuannm99/btreeidx/internal/pagestore"
	"github.com/tuannm99/btreeidx/internal/storage"
	"github.com/tuannm99/btreeidx/internal/wal"
)

// ---- history (own file, one statement per line) ----

type History struct {
	path  string
	lines []string
}

func NewHistory(path string) *History {
	return &History{path: path}
}

func (h *History) Load(max int) error {
	if h.path == "" {
		return nil
	}
	f, err := os.Open(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		s := strings.TrimSpace(sc.Text())
		if s == "" {
			continue
		}
		h.lines = append(h.lines, s)
		if max > 0 && len(h.lines) > max {
			h.lines = h.lines[len(h.lines)-max:]
		}
	}
	return sc.Err()
}

func (h *History) Append(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" || h.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = fmt.Fprintln(f, cmd)
	return err
}

func (h *History) Print(last int) {
	start := 0
	if last > 0 && len(h.lines) > last {
		start = len(h.lines) - last
	}
	for i := start; i < len(h.lines); i++ {
		fmt.Printf("%4d  %s\n", i+1, h.lines[i])
	}
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".btreeshell_history"
	}
	return filepath.Join(home, ".btreeshell_history")
}

const helpText = `commands:
  insert <key> <value>   insert a record (an existing key is kept; duplicates are allowed)
  get <key>               fetch a record by exact key
  range <lo|-> <hi|->     scan keys in [lo, hi] inclusive; '-' for unbounded
  delete <key>            remove a record
  dump                    print every record in key order
  validate                run the structural validator over the whole tree
  checkpoint              persist root/height/segment state to disk now
  \history                print command history
  \help                   show this help
  \q | quit | exit        save a checkpoint and quit`

func isMetaCommand(line string) bool {
	switch line {
	case "\\q", "quit", "exit", "\\help", "\\history":
		return true
	}
	return false
}

// shellResources bundles the handles openTree acquires that main must
// close on exit, alongside the tree itself.
type shellResources struct {
	tree *btree.Tree
	redo *mtr.RedoLog
	wal  *wal.Manager
}

func (r *shellResources) Close() {
	if r.redo != nil {
		_ = r.redo.Close()
	}
	if r.wal != nil {
		_ = r.wal.Close()
	}
}

func openTree(dir string, configPath string, indexID uint64) (*shellResources, error) {
	cfg, err := internal.LoadConfigOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dir != "" {
		cfg.Storage.Dir = dir
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "./btreeshell-data"
	}
	if cfg.Mtr.WalDir == "" {
		cfg.Mtr.WalDir = cfg.Storage.Dir
	}
	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir storage dir: %w", err)
	}

	walMgr, err := wal.Open(cfg.Mtr.WalDir)
	if err != nil {
		return nil, fmt.Errorf("open page-image wal: %w", err)
	}
	sm := storage.NewStorageManagerWithWAL(walMgr)
	if err := sm.RecoverFromWAL(); err != nil {
		_ = walMgr.Close()
		return nil, fmt.Errorf("recover page-image wal: %w", err)
	}

	fs := storage.LocalFileSet{Dir: cfg.Storage.Dir, Base: "idx"}
	pool := pagestore.NewPool(sm, fs, cfg.Pagestore.CapacityFrames)

	redo, err := mtr.OpenRedoLog(cfg.Mtr.WalDir)
	if err != nil {
		_ = walMgr.Close()
		return nil, fmt.Errorf("open redo log: %w", err)
	}

	deps := btree.Deps{SM: sm, FS: fs, Pool: pool, Redo: redo}
	flags := btree.Flags{Clustered: true, Compress: cfg.Btree.Compress}

	chk, found, err := btree.LoadCheckpoint(fs)
	if err != nil {
		_ = redo.Close()
		_ = walMgr.Close()
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if found {
		slog.Info("btreeshell: reopening existing index", "dir", cfg.Storage.Dir, "root", chk.Root, "height", chk.Height)
		return &shellResources{tree: btree.Open(deps, indexID, flags, chk), redo: redo, wal: walMgr}, nil
	}

	slog.Info("btreeshell: creating new index", "dir", cfg.Storage.Dir)
	tr, err := btree.Create(deps, indexID, flags)
	if err != nil {
		_ = redo.Close()
		_ = walMgr.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &shellResources{tree: tr, redo: redo, wal: walMgr}, nil
}

func runInsert(tr *btree.Tree, args []string) {
	if len(args) < 2 {
		fmt.Println("usage: insert <key> <value>")
		return
	}
	key, value := args[0], strings.Join(args[1:], " ")
	if err := tr.Insert(btree.Key(key), []byte(value)); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func runGet(tr *btree.Tree, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: get <key>")
		return
	}
	v, err := tr.Get(btree.Key(args[0]))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println(string(v))
}

func runDelete(tr *btree.Tree, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: delete <key>")
		return
	}
	if err := tr.Delete(btree.Key(args[0])); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func runRange(tr *btree.Tree, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: range <lo|-> <hi|->")
		return
	}
	var lo, hi btree.Key
	if args[0] != "-" {
		lo = btree.Key(args[0])
	}
	if args[1] != "-" {
		hi = btree.Key(args[1])
	}
	kvs, err := tr.RangeScan(lo, hi)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	for _, kv := range kvs {
		fmt.Printf("%s\t%s\n", string(kv.Key), string(kv.Value))
	}
	fmt.Printf("(%d rows)\n", len(kvs))
}

func runDump(tr *btree.Tree) {
	kvs, err := tr.RangeScan(nil, nil)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	for _, kv := range kvs {
		fmt.Printf("%s\t%s\n", string(kv.Key), string(kv.Value))
	}
	fmt.Printf("(%d rows)\n", len(kvs))
}

func runValidate(tr *btree.Tree) {
	report, err := tr.ValidateIndex(nil)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if report.OK {
		fmt.Println("OK")
		return
	}
	for _, p := range report.Problems {
		fmt.Println(p)
	}
}

func runCheckpoint(tr *btree.Tree) {
	if err := tr.SaveCheckpoint(); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func main() {
	var (
		dir        = flag.String("dir", "", "storage directory (overrides config)")
		configPath = flag.String("config", "", "path to a YAML config file")
		indexID    = flag.Uint64("index", 1, "index id")
		histPath   = flag.String("history", defaultHistoryPath(), "history file path")
		histMax    = flag.Int("history-max", 2000, "max history lines loaded into memory")
	)
	flag.Parse()

	res, err := openTree(*dir, *configPath, *indexID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	tr := res.tree
	defer res.Close()

	h := NewHistory(*histPath)
	_ = h.Load(*histMax)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "btree> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	for _, line := range h.lines {
		_ = rl.SaveHistory(line)
	}

	fmt.Println("type \\help for help")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			fmt.Println("^C")
			continue
		}
		if err != nil {
			fmt.Println()
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if isMetaCommand(line) {
			switch line {
			case "\\q", "quit", "exit":
				if err := tr.SaveCheckpoint(); err != nil {
					fmt.Printf("checkpoint error: %v\n", err)
				}
				return
			case "\\help":
				fmt.Println(helpText)
			case "\\history":
				h.Print(50)
			}
			continue
		}

		_ = h.Append(line)
		_ = rl.SaveHistory(line)

		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]
		switch strings.ToLower(cmd) {
		case "insert":
			runInsert(tr, args)
		case "get":
			runGet(tr, args)
		case "delete":
			runDelete(tr, args)
		case "range":
			runRange(tr, args)
		case "dump":
			runDump(tr)
		case "validate":
			runValidate(tr)
		case "checkpoint", "save":
			runCheckpoint(tr)
		default:
			fmt.Printf("unknown command: %s (try \\help)\n", cmd)
		}
	}

	if err := tr.SaveCheckpoint(); err != nil {
		fmt.Printf("checkpoint error: %v\n", err)
	}
}
