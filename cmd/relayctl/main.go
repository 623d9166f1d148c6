// Command relayctl is a thin CLI surface over the relaycore library:
// generate keys, inspect relays, run queries, publish events, replicate a
// profile, and push files via NIP-95. It is explicitly the external
// collaborator named in spec.md §1/§6 — a runnable entry point that
// exercises the library end to end, not where any protocol logic lives.
package main

import (
	cryptorand "crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/nostrhub/relaycore/pkg/client"
	"github.com/nostrhub/relaycore/pkg/collector"
	"github.com/nostrhub/relaycore/pkg/config"
	"github.com/nostrhub/relaycore/pkg/crypto"
	"github.com/nostrhub/relaycore/pkg/hex"
	"github.com/nostrhub/relaycore/pkg/logging"
	"github.com/nostrhub/relaycore/pkg/nip95"
	"github.com/nostrhub/relaycore/pkg/nostr/envelope"
	"github.com/nostrhub/relaycore/pkg/nostr/event"
	"github.com/nostrhub/relaycore/pkg/nostr/filter"
	"github.com/nostrhub/relaycore/pkg/nostr/kind"
	"github.com/nostrhub/relaycore/pkg/nostr/relayinfo"
)

func main() {
	app := &cli.App{
		Name:  "relayctl",
		Usage: "a Nostr relay-protocol client and replication CLI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "relaycore.toml", Usage: "path to the TOML config file"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug-level logging"},
		},
		Commands: []*cli.Command{
			generateCmd,
			decodeCmd,
			lookupCmd,
			infoCmd,
			queryCmd,
			sendCmd,
			copyCmd,
			collectCmd,
			fileCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "relayctl:", err)
		os.Exit(1)
	}
}

func logger(c *cli.Context) zerolog.Logger { return logging.New(os.Stderr, c.Bool("debug")) }

var generateCmd = &cli.Command{
	Name:  "generate",
	Usage: "generate a new secp256k1 keypair",
	Action: func(c *cli.Context) error {
		var sk [32]byte
		if _, err := cryptorand.Read(sk[:]); err != nil {
			return err
		}
		pk, err := crypto.PubKey(sk[:])
		if err != nil {
			return err
		}
		fmt.Println("seckey:", hex.Enc(sk[:]))
		fmt.Println("pubkey:", hex.Enc(pk))
		return nil
	},
}

var decodeCmd = &cli.Command{
	Name:      "decode",
	Usage:     "decode a raw relay/client wire message",
	ArgsUsage: "<json-array>",
	Action: func(c *cli.Context) error {
		raw := []byte(c.Args().First())
		if len(raw) == 0 {
			return cli.Exit("decode: missing message argument", 1)
		}
		env, err := envelope.Decode(raw)
		if err != nil {
			return err
		}
		fmt.Printf("label: %s\n", env.Label())
		b, _ := json.MarshalIndent(env, "", "  ")
		fmt.Println(string(b))
		return nil
	},
}

var infoCmd = &cli.Command{
	Name:      "info",
	Usage:     "fetch a relay's NIP-11 information document",
	ArgsUsage: "<relay-url>",
	Action: func(c *cli.Context) error {
		u := c.Args().First()
		if u == "" {
			return cli.Exit("info: missing relay url", 1)
		}
		ri, err := relayinfo.Fetch(c.Context, u)
		if err != nil {
			return err
		}
		b, _ := json.MarshalIndent(ri, "", "  ")
		fmt.Println(string(b))
		return nil
	},
}

var lookupCmd = &cli.Command{
	Name:      "lookup",
	Usage:     "look up a pubkey's latest kind-0 profile on a relay",
	ArgsUsage: "<relay-url> <pubkey>",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 2 {
			return cli.Exit("lookup: usage: lookup <relay-url> <pubkey>", 1)
		}
		conn, err := client.Connect(c.Context, c.Args().Get(0), nil, client.WithLogger(logger(c)))
		if err != nil {
			return err
		}
		defer conn.Close()
		ev, err := conn.QueryOne(c.Context, &filter.T{Authors: []string{c.Args().Get(1)}, Kinds: []kind.T{kind.Metadata}})
		if err != nil {
			return err
		}
		if ev == nil {
			return cli.Exit("lookup: no profile found", 1)
		}
		b, _ := json.MarshalIndent(ev, "", "  ")
		fmt.Println(string(b))
		return nil
	},
}

var queryCmd = &cli.Command{
	Name:      "query",
	Usage:     "run a REQ against a relay, paging past its server cap, and print matching events",
	ArgsUsage: "<relay-url>",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{Name: "author"},
		&cli.IntSliceFlag{Name: "kind"},
		&cli.IntFlag{Name: "limit"},
	},
	Action: func(c *cli.Context) error {
		u := c.Args().First()
		if u == "" {
			return cli.Exit("query: missing relay url", 1)
		}
		conn, err := client.Connect(c.Context, u, nil, client.WithLogger(logger(c)))
		if err != nil {
			return err
		}
		defer conn.Close()

		f := &filter.T{Authors: c.StringSlice("author"), Limit: c.Int("limit")}
		for _, k := range c.IntSlice("kind") {
			f.Kinds = append(f.Kinds, kind.T(k))
		}
		ch, err := conn.QuerySaved(c.Context, f, c.Int("limit"))
		if err != nil {
			return err
		}
		for ev := range ch {
			b, _ := json.Marshal(ev)
			fmt.Println(string(b))
		}
		return nil
	},
}

var sendCmd = &cli.Command{
	Name:      "send",
	Usage:     "sign and publish an event read from a file (or stdin with '-')",
	ArgsUsage: "<relay-url> <event-json-file> <seckey-hex>",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 3 {
			return cli.Exit("send: usage: send <relay-url> <event-json-file> <seckey-hex>", 1)
		}
		raw, err := readFileOrStdin(c.Args().Get(1))
		if err != nil {
			return err
		}
		var ev event.T
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		sk, err := hex.Dec(c.Args().Get(2))
		if err != nil {
			return err
		}
		if err := ev.Sign(sk); err != nil {
			return err
		}
		conn, err := client.Connect(c.Context, c.Args().Get(0), nil, client.WithLogger(logger(c)))
		if err != nil {
			return err
		}
		defer conn.Close()
		res, err := conn.Publish(c.Context, &ev)
		if err != nil {
			return err
		}
		fmt.Printf("published %s (duplicate=%v)\n", ev.ID, res.IsDuplicate)
		return nil
	},
}

var copyCmd = &cli.Command{
	Name:      "copy",
	Usage:     "fetch a single event by id from any configured source relay and publish it to the destination",
	ArgsUsage: "<profile> <event-id>",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 2 {
			return cli.Exit("copy: usage: copy <profile> <event-id>", 1)
		}
		rp, err := resolveProfile(c.String("config"), c.Args().Get(0))
		if err != nil {
			return err
		}
		log := logger(c)
		var sources []*client.Conn
		for _, u := range rp.SourceRelays {
			conn, err := client.Connect(c.Context, u, nil, client.WithLogger(log))
			if err != nil {
				log.Warn().Err(err).Str("relay", u).Msg("copy: source unreachable, skipping")
				continue
			}
			defer conn.Close()
			sources = append(sources, conn)
		}
		mc := collector.NewMultiClient(sources)
		found := mc.GetEvents(c.Context, log, []string{c.Args().Get(1)})
		ev, ok := found[c.Args().Get(1)]
		if !ok {
			return cli.Exit("copy: event not found on any source", 1)
		}
		dest, err := client.Connect(c.Context, rp.Destination, nil, client.WithLogger(log))
		if err != nil {
			return err
		}
		defer dest.Close()
		res := dest.TryPublish(c.Context, ev)
		if res.HadError {
			return cli.Exit("copy: publish failed", 1)
		}
		fmt.Printf("copied %s (duplicate=%v)\n", ev.ID, res.IsDuplicate)
		return nil
	},
}

var collectCmd = &cli.Command{
	Name:      "collect",
	Usage:     "run the full replication pipeline for a configured profile",
	ArgsUsage: "<profile>",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Value: 500, Usage: "events to pull per source relay, per author"},
	},
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 1 {
			return cli.Exit("collect: usage: collect <profile>", 1)
		}
		rp, err := resolveProfile(c.String("config"), c.Args().Get(0))
		if err != nil {
			return err
		}
		co := collector.New(rp, c.Int("limit"), logger(c))
		return co.Run(c.Context)
	},
}

var fileCmd = &cli.Command{
	Name:  "file",
	Usage: "NIP-95 file operations",
	Subcommands: []*cli.Command{
		fileUploadCmd,
		fileListCmd,
	},
}

var fileUploadCmd = &cli.Command{
	Name:      "upload",
	Usage:     "split a file into NIP-95 chunk events and publish them to a relay",
	ArgsUsage: "<relay-url> <path> <seckey-hex> <mime-type>",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "max-message-size", Value: 65536},
		&cli.StringFlag{Name: "alt"},
		&cli.StringFlag{Name: "description"},
	},
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 4 {
			return cli.Exit("file upload: usage: file upload <relay-url> <path> <seckey-hex> <mime-type>", 1)
		}
		f, err := os.Open(c.Args().Get(1))
		if err != nil {
			return err
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			return err
		}
		sk, err := hex.Dec(c.Args().Get(2))
		if err != nil {
			return err
		}
		sign := func(ev *event.T) error { return ev.Sign(sk) }

		conn, err := client.Connect(c.Context, c.Args().Get(0), nil, client.WithLogger(logger(c)))
		if err != nil {
			return err
		}
		defer conn.Close()

		codec, err := nip95.New(f, st.Size(), sign, c.Int("max-message-size"), nip95.Params{
			FileName:    st.Name(),
			MimeType:    c.Args().Get(3),
			Alt:         c.String("alt"),
			Description: c.String("description"),
		})
		if err != nil {
			return err
		}
		meta, err := codec.Metadata(c.Context)
		if err != nil {
			return err
		}
		if _, err := conn.Publish(c.Context, meta); err != nil {
			return err
		}
		fmt.Printf("metadata published: %s (%d chunks)\n", meta.ID, codec.NumChunks())

		return codec.Chunks(c.Context, func(ev *event.T) error {
			if _, err := conn.Publish(c.Context, ev); err != nil {
				return err
			}
			fmt.Printf("chunk published: %s\n", ev.ID)
			return nil
		})
	},
}

var fileListCmd = &cli.Command{
	Name:      "ls",
	Usage:     "list a pubkey's NIP-95 file metadata events on a relay",
	ArgsUsage: "<relay-url> <pubkey>",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 2 {
			return cli.Exit("file ls: usage: file ls <relay-url> <pubkey>", 1)
		}
		conn, err := client.Connect(c.Context, c.Args().Get(0), nil, client.WithLogger(logger(c)))
		if err != nil {
			return err
		}
		defer conn.Close()
		evs, err := conn.QuerySimple(c.Context, &filter.T{Authors: []string{c.Args().Get(1)}, Kinds: []kind.T{kind.FileMetadata}})
		if err != nil {
			return err
		}
		for _, ev := range evs {
			name := ev.Tag("fileName")
			size := ev.Tag("size")
			fmt.Printf("%s  %s  %s bytes\n", ev.ID, name.Val(), size.Val())
		}
		return nil
	},
}

func resolveProfile(configPath, profileName string) (config.ResolvedProfile, error) {
	f, err := config.Load(configPath)
	if err != nil {
		return config.ResolvedProfile{}, err
	}
	return f.Resolve(profileName)
}

func readFileOrStdin(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
