package logic

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/WendelHime/swarmget/internal/config"
	"github.com/WendelHime/swarmget/internal/decoder"
	"github.com/WendelHime/swarmget/internal/p2p"
	"github.com/WendelHime/swarmget/internal/shared/models"
	"github.com/WendelHime/swarmget/internal/tracker"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
)

type Downloader interface {
	// Download fetches the whole content described by metafile into
	// outputPath and returns the number of bytes written.
	Download(metafile io.Reader, outputPath string) (int64, error)
	// DownloadPiece fetches a single piece into outputPath.
	DownloadPiece(metafile io.Reader, index int, outputPath string) (int64, error)
}

type downloader struct {
	cfg      config.Config
	d        decoder.MetafileDecoder
	log      *slog.Logger
	progress io.Writer
}

type DownloaderOption func(*downloader)

// WithProgressOutput sets where the progress bar is rendered.
func WithProgressOutput(w io.Writer) DownloaderOption {
	return func(d *downloader) { d.progress = w }
}

func NewDownloader(d decoder.MetafileDecoder, cfg config.Config, logger *slog.Logger, opts ...DownloaderOption) Downloader {
	dl := &downloader{cfg: cfg, d: d, log: logger, progress: os.Stdout}
	for _, opt := range opts {
		opt(dl)
	}
	return dl
}

func (d *downloader) Download(metafile io.Reader, outputPath string) (int64, error) {
	meta, peers, err := d.prepare(metafile)
	if err != nil {
		return 0, err
	}

	indices := make([]int, meta.NumPieces())
	for i := range indices {
		indices[i] = i
	}
	return d.fetch(meta, peers, indices, outputPath)
}

func (d *downloader) DownloadPiece(metafile io.Reader, index int, outputPath string) (int64, error) {
	meta, peers, err := d.prepare(metafile)
	if err != nil {
		return 0, err
	}
	if index < 0 || index >= meta.NumPieces() {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrPieceIndex, index, meta.NumPieces())
	}
	return d.fetch(meta, peers, []int{index}, outputPath)
}

// prepare decodes the metafile and announces to its tracker.
func (d *downloader) prepare(metafile io.Reader) (models.Metafile, []models.Addr, error) {
	d.log.Info("decoding metafile")
	meta, err := d.d.Decode(metafile)
	if err != nil {
		return models.Metafile{}, nil, err
	}

	d.log.Info("retrieving peers", slog.String("announce", meta.Announce), slog.Int("pieces", meta.NumPieces()))
	peers, err := d.retrievePeers(meta)
	if err != nil {
		return models.Metafile{}, nil, err
	}
	return meta, peers, nil
}

func (d *downloader) retrievePeers(meta models.Metafile) ([]models.Addr, error) {
	t := tracker.NewTracker(meta.Announce, d.cfg.PeerIDBytes(), d.cfg.Port)
	found, err := t.GetPeers(meta)
	if err != nil {
		return nil, err
	}

	unique := make(map[string]struct{})
	peers := make([]models.Addr, 0, len(found))
	for _, peer := range found {
		addr := peer.String()
		if peer.IP.IsUnspecified() {
			continue
		}
		if _, ok := unique[addr]; ok {
			continue
		}
		unique[addr] = struct{}{}
		peers = append(peers, peer)
	}

	if len(peers) == 0 {
		return nil, ErrNoPeers
	}
	d.log.Info("retrieved peers", slog.Int("count", len(peers)))
	return peers, nil
}

func (d *downloader) fetch(meta models.Metafile, peers []models.Addr, indices []int, outputPath string) (int64, error) {
	total := int64(0)
	for _, index := range indices {
		total += int64(meta.PieceSize(index))
	}

	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(d.progress),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetDescription("downloading"),
	)
	defer bar.Finish()

	coordinator := NewCoordinator(meta, p2p.NewConnector(d.cfg.PeerIDBytes(), d.cfg.DialTimeout), d.log,
		WithMaxAttempts(d.cfg.MaxPieceAttempts),
		WithProgress(func(size int) { bar.Add(size) }),
	)
	data, err := coordinator.DownloadPieces(peers, indices)
	if err != nil {
		return 0, err
	}

	if err := writeFile(outputPath, data); err != nil {
		return 0, err
	}
	d.log.Info("output written", slog.String("path", outputPath), slog.String("size", humanize.Bytes(uint64(len(data)))))
	return int64(len(data)), nil
}

func writeFile(outputPath string, data []byte) error {
	if dir := filepath.Dir(outputPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to save %s: %w", outputPath, err)
	}
	return nil
}
