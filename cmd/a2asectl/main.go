// a2asectl seals and verifies negotiation transcripts from the command line
// and moves them in and out of the Postgres archive.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/a2a-settlement/a2ase/pkg/archive"
	"github.com/a2a-settlement/a2ase/pkg/config"
	"github.com/a2a-settlement/a2ase/pkg/db"
	"github.com/a2a-settlement/a2ase/pkg/transcript"
)

const usage = `usage:
  a2asectl transcript seal --in <entries.json> --out <transcript.json> [--session-id <id>]
  a2asectl transcript verify --file <transcript.json>
  a2asectl archive save --file <transcript.json>
  a2asectl archive get --session-id <id> [--out <path>]
  a2asectl archive list [--limit N] [--offset N]`

func main() {
	if len(os.Args) < 3 {
		fail(usage)
	}
	switch os.Args[1] + " " + os.Args[2] {
	case "transcript seal":
		runSeal(os.Args[3:])
	case "transcript verify":
		runVerify(os.Args[3:])
	case "archive save":
		runArchiveSave(os.Args[3:])
	case "archive get":
		runArchiveGet(os.Args[3:])
	case "archive list":
		runArchiveList(os.Args[3:])
	default:
		fail(usage)
	}
}

// sealInput is the file format transcript seal reads: the raw negotiation
// plus the agreed compromise, before any canonicalization.
type sealInput struct {
	Entries    []transcript.Entry `json:"entries"`
	Compromise map[string]any     `json:"compromise"`
}

func runSeal(args []string) {
	fs := flag.NewFlagSet("transcript seal", flag.ExitOnError)
	in := fs.String("in", "", "path to negotiation entries json")
	out := fs.String("out", "", "path to write the sealed transcript")
	sessionID := fs.String("session-id", "", "session id (generated when empty)")
	_ = fs.Parse(args)
	if strings.TrimSpace(*in) == "" || strings.TrimSpace(*out) == "" {
		fail("both --in and --out are required\n" + usage)
	}

	raw, err := os.ReadFile(*in)
	if err != nil {
		fail("read input: " + err.Error())
	}
	var input sealInput
	if err := json.Unmarshal(raw, &input); err != nil {
		fail("parse input: " + err.Error())
	}

	var opts []transcript.BuildOption
	if *sessionID != "" {
		opts = append(opts, transcript.WithSessionID(*sessionID))
	}
	sealed, err := transcript.Build(context.Background(), input.Entries, input.Compromise, opts...)
	if err != nil {
		fail("seal: " + err.Error())
	}

	encoded, err := json.MarshalIndent(sealed, "", "  ")
	if err != nil {
		fail("encode: " + err.Error())
	}
	if err := os.WriteFile(*out, append(encoded, '\n'), 0o644); err != nil {
		fail("write output: " + err.Error())
	}
	fmt.Printf("SEALED session=%s entries=%d digest=%s\n", sealed.SessionID, len(sealed.Entries), sealed.Hash)
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("transcript verify", flag.ExitOnError)
	file := fs.String("file", "", "path to sealed transcript json")
	_ = fs.Parse(args)
	if strings.TrimSpace(*file) == "" {
		fail("--file is required\n" + usage)
	}

	t := readTranscript(*file)
	if err := transcript.Verify(t); err != nil {
		fmt.Printf("FAIL session=%s: %v\n", t.SessionID, err)
		os.Exit(1)
	}
	fmt.Printf("PASS session=%s entries=%d digest=%s\n", t.SessionID, len(t.Entries), t.Hash)
}

func runArchiveSave(args []string) {
	fs := flag.NewFlagSet("archive save", flag.ExitOnError)
	file := fs.String("file", "", "path to sealed transcript json")
	_ = fs.Parse(args)
	if strings.TrimSpace(*file) == "" {
		fail("--file is required\n" + usage)
	}

	t := readTranscript(*file)
	store, ctx := openArchive()
	defer store.DB.Close()
	if err := store.Save(ctx, t); err != nil {
		fail("save: " + err.Error())
	}
	fmt.Printf("ARCHIVED session=%s digest=%s\n", t.SessionID, t.Hash)
}

func runArchiveGet(args []string) {
	fs := flag.NewFlagSet("archive get", flag.ExitOnError)
	sessionID := fs.String("session-id", "", "session id to load")
	out := fs.String("out", "", "write the transcript here instead of stdout")
	_ = fs.Parse(args)
	if strings.TrimSpace(*sessionID) == "" {
		fail("--session-id is required\n" + usage)
	}

	store, ctx := openArchive()
	defer store.DB.Close()
	t, err := store.Get(ctx, *sessionID)
	if err != nil {
		fail("get: " + err.Error())
	}
	encoded, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		fail("encode: " + err.Error())
	}
	if *out == "" {
		fmt.Println(string(encoded))
		return
	}
	if err := os.WriteFile(*out, append(encoded, '\n'), 0o644); err != nil {
		fail("write output: " + err.Error())
	}
}

func runArchiveList(args []string) {
	fs := flag.NewFlagSet("archive list", flag.ExitOnError)
	limit := fs.Int("limit", 50, "page size")
	offset := fs.Int("offset", 0, "page offset")
	_ = fs.Parse(args)

	store, ctx := openArchive()
	defer store.DB.Close()
	infos, err := store.List(ctx, *limit, *offset)
	if err != nil {
		fail("list: " + err.Error())
	}
	for _, info := range infos {
		fmt.Printf("%s entries=%d digest=%s\n", info.SessionID, info.EntryCount, info.Digest)
	}
}

func readTranscript(path string) *transcript.Transcript {
	raw, err := os.ReadFile(path)
	if err != nil {
		fail("read transcript: " + err.Error())
	}
	var t transcript.Transcript
	if err := json.Unmarshal(raw, &t); err != nil {
		fail("parse transcript: " + err.Error())
	}
	return &t
}

func openArchive() (*archive.Store, context.Context) {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		fail(err.Error())
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		fail(err.Error())
	}
	store := archive.New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		fail("ensure schema: " + err.Error())
	}
	return store, ctx
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
