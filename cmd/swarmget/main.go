package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/WendelHime/swarmget/internal/config"
	"github.com/WendelHime/swarmget/internal/decoder"
	"github.com/WendelHime/swarmget/internal/logic"
	"github.com/WendelHime/swarmget/internal/p2p"
	"github.com/WendelHime/swarmget/internal/shared/models"
	"github.com/WendelHime/swarmget/internal/tracker"
	"github.com/dustin/go-humanize"
	"github.com/zeebo/bencode"
)

var errUsage = errors.New("usage: swarmget <decode|info|peers|handshake|download_piece|download> [args]")

func main() {
	cfg, err := config.Load(os.Environ())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Create a new logger and generate log file
	logOut, err := os.Create(cfg.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logOut.Close()
	level, err := cfg.Level()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))

	if err := run(os.Args[1:], cfg, logger); err != nil {
		logger.Error("command failed", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		logOut.Close()
		os.Exit(1)
	}
}

func run(args []string, cfg config.Config, logger *slog.Logger) error {
	if len(args) == 0 {
		return errUsage
	}

	switch command, args := args[0], args[1:]; command {
	case "decode":
		if len(args) != 1 {
			return errors.New("usage: swarmget decode <bencoded value>")
		}
		out, err := decodeValue(args[0])
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	case "info":
		return info(args)
	case "peers":
		return peers(args, cfg)
	case "handshake":
		return handshake(args, cfg)
	case "download_piece":
		return downloadPiece(args, cfg, logger)
	case "download":
		return download(args, cfg, logger)
	default:
		return fmt.Errorf("unknown command %q: %w", command, errUsage)
	}
}

// decodeValue renders a bencoded value as JSON.
func decodeValue(raw string) (string, error) {
	var value any
	if err := bencode.DecodeString(raw, &value); err != nil {
		return "", fmt.Errorf("failed to decode %q: %w", raw, err)
	}
	out, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func decodeFile(path string) (models.Metafile, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Metafile{}, err
	}
	defer f.Close()
	return decoder.NewDecoder().Decode(f)
}

func info(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: swarmget info <torrent>")
	}
	meta, err := decodeFile(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Tracker URL: %s\n", meta.Announce)
	fmt.Printf("Length: %d\n", meta.Info.Length)
	fmt.Printf("Info Hash: %s\n", meta.InfoHash)
	fmt.Printf("Piece Length: %d\n", meta.Info.PieceLength)
	fmt.Println("Piece Hashes:")
	for _, hash := range meta.Info.PiecesHashes {
		fmt.Println(hash)
	}
	return nil
}

func peers(args []string, cfg config.Config) error {
	if len(args) != 1 {
		return errors.New("usage: swarmget peers <torrent>")
	}
	meta, err := decodeFile(args[0])
	if err != nil {
		return err
	}

	found, err := tracker.NewTracker(meta.Announce, cfg.PeerIDBytes(), cfg.Port).GetPeers(meta)
	if err != nil {
		return err
	}
	for _, peer := range found {
		fmt.Println(peer)
	}
	return nil
}

func handshake(args []string, cfg config.Config) error {
	if len(args) != 2 {
		return errors.New("usage: swarmget handshake <torrent> <ip:port>")
	}
	meta, err := decodeFile(args[0])
	if err != nil {
		return err
	}
	addr, err := models.ParseAddr(args[1])
	if err != nil {
		return err
	}

	client, err := p2p.NewConnector(cfg.PeerIDBytes(), cfg.DialTimeout).Connect(addr, meta.InfoHash)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("Peer ID: %s\n", client.RemotePeerID())
	return nil
}

func downloadPiece(args []string, cfg config.Config, logger *slog.Logger) error {
	fs := flag.NewFlagSet("download_piece", flag.ContinueOnError)
	output := fs.String("o", "", "Specify the output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *output == "" || fs.NArg() != 2 {
		return errors.New("usage: swarmget download_piece -o <output> <torrent> <index>")
	}
	index, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("invalid piece index %q: %w", fs.Arg(1), err)
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := logic.NewDownloader(decoder.NewDecoder(), cfg, logger).DownloadPiece(f, index, *output)
	if err != nil {
		return err
	}
	fmt.Printf("Piece %d downloaded to %s (%s).\n", index, *output, humanize.Bytes(uint64(n)))
	return nil
}

func download(args []string, cfg config.Config, logger *slog.Logger) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	output := fs.String("o", "", "Specify the output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *output == "" || fs.NArg() != 1 {
		return errors.New("usage: swarmget download -o <output> <torrent>")
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := logic.NewDownloader(decoder.NewDecoder(), cfg, logger).Download(f, *output)
	if err != nil {
		return err
	}
	fmt.Printf("Downloaded %s to %s (%s).\n", fs.Arg(0), *output, humanize.Bytes(uint64(n)))
	return nil
}
