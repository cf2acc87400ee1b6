package logic

import (
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/WendelHime/swarmget/internal/config"
	"github.com/WendelHime/swarmget/internal/decoder"
	"github.com/WendelHime/swarmget/internal/seeder"
	"github.com/WendelHime/swarmget/internal/shared/models"
	"github.com/jackpal/bencode-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compactPeers(peers ...models.Addr) string {
	var out []byte
	for _, p := range peers {
		out = append(out, p.IP.To4()...)
		out = append(out, byte(p.Port>>8), byte(p.Port))
	}
	return string(out)
}

// startTracker answers every announce with peers in compact form.
func startTracker(t *testing.T, peers ...models.Addr) string {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("compact"))
		assert.Equal(t, string(testPeerID[:]), r.URL.Query().Get("peer_id"))
		if err := bencode.Marshal(w, map[string]any{"interval": 1800, "peers": compactPeers(peers...)}); err != nil {
			t.Error(err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/announce"
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.PeerID = string(testPeerID[:])
	return cfg
}

func TestDownloader(t *testing.T) {
	torrent, err := seeder.NewTorrent("sample.bin", content(700000), 262144)
	require.NoError(t, err)

	var tests = []struct {
		name   string
		setup  func(t *testing.T) (Downloader, []byte)
		run    func(d Downloader, metafile []byte, out string) (int64, error)
		assert func(t *testing.T, out string, n int64, err error)
	}{
		{
			name: "download whole file",
			setup: func(t *testing.T) (Downloader, []byte) {
				good := startSeeder(t, torrent, seeder.Options{}).Addr()
				bad := startSeeder(t, torrent, seeder.Options{Corrupt: map[int]int{0: -1}}).Addr()
				unspecified := models.Addr{IP: net.IPv4zero, Port: 6881}
				metafile, err := torrent.Bytes(startTracker(t, good, good, unspecified, bad))
				require.NoError(t, err)
				return NewDownloader(decoder.NewDecoder(), testConfig(), discardLogger(), WithProgressOutput(&bytes.Buffer{})), metafile
			},
			run: func(d Downloader, metafile []byte, out string) (int64, error) {
				return d.Download(bytes.NewReader(metafile), out)
			},
			assert: func(t *testing.T, out string, n int64, err error) {
				require.NoError(t, err)
				assert.Equal(t, int64(700000), n)
				written, err := os.ReadFile(out)
				require.NoError(t, err)
				assert.Equal(t, torrent.Content, written)
			},
		},
		{
			name: "download single piece",
			setup: func(t *testing.T) (Downloader, []byte) {
				metafile, err := torrent.Bytes(startTracker(t, startSeeder(t, torrent, seeder.Options{}).Addr()))
				require.NoError(t, err)
				return NewDownloader(decoder.NewDecoder(), testConfig(), discardLogger(), WithProgressOutput(&bytes.Buffer{})), metafile
			},
			run: func(d Downloader, metafile []byte, out string) (int64, error) {
				return d.DownloadPiece(bytes.NewReader(metafile), 2, out)
			},
			assert: func(t *testing.T, out string, n int64, err error) {
				require.NoError(t, err)
				assert.Equal(t, int64(175712), n)
				written, err := os.ReadFile(out)
				require.NoError(t, err)
				assert.Equal(t, torrent.Piece(2), written)
			},
		},
		{
			name: "piece index out of range",
			setup: func(t *testing.T) (Downloader, []byte) {
				metafile, err := torrent.Bytes(startTracker(t, startSeeder(t, torrent, seeder.Options{}).Addr()))
				require.NoError(t, err)
				return NewDownloader(decoder.NewDecoder(), testConfig(), discardLogger(), WithProgressOutput(&bytes.Buffer{})), metafile
			},
			run: func(d Downloader, metafile []byte, out string) (int64, error) {
				return d.DownloadPiece(bytes.NewReader(metafile), 3, out)
			},
			assert: func(t *testing.T, out string, n int64, err error) {
				assert.ErrorIs(t, err, ErrPieceIndex)
				assert.NoFileExists(t, out)
			},
		},
		{
			name: "tracker returns no usable peers",
			setup: func(t *testing.T) (Downloader, []byte) {
				metafile, err := torrent.Bytes(startTracker(t, models.Addr{IP: net.IPv4zero, Port: 6881}))
				require.NoError(t, err)
				return NewDownloader(decoder.NewDecoder(), testConfig(), discardLogger(), WithProgressOutput(&bytes.Buffer{})), metafile
			},
			run: func(d Downloader, metafile []byte, out string) (int64, error) {
				return d.Download(bytes.NewReader(metafile), out)
			},
			assert: func(t *testing.T, out string, n int64, err error) {
				assert.ErrorIs(t, err, ErrNoPeers)
				assert.NoFileExists(t, out)
			},
		},
		{
			name: "every piece is corrupt",
			setup: func(t *testing.T) (Downloader, []byte) {
				s := startSeeder(t, torrent, seeder.Options{Corrupt: map[int]int{0: -1, 1: -1, 2: -1}})
				metafile, err := torrent.Bytes(startTracker(t, s.Addr()))
				require.NoError(t, err)
				cfg := testConfig()
				cfg.MaxPieceAttempts = 2
				return NewDownloader(decoder.NewDecoder(), cfg, discardLogger(), WithProgressOutput(&bytes.Buffer{})), metafile
			},
			run: func(d Downloader, metafile []byte, out string) (int64, error) {
				return d.Download(bytes.NewReader(metafile), out)
			},
			assert: func(t *testing.T, out string, n int64, err error) {
				assert.ErrorIs(t, err, ErrStalled)
				assert.NoFileExists(t, out)
			},
		},
		{
			name: "malformed metafile",
			setup: func(t *testing.T) (Downloader, []byte) {
				return NewDownloader(decoder.NewDecoder(), testConfig(), discardLogger()), []byte("d8:announce")
			},
			run: func(d Downloader, metafile []byte, out string) (int64, error) {
				return d.Download(bytes.NewReader(metafile), out)
			},
			assert: func(t *testing.T, out string, n int64, err error) {
				assert.Error(t, err)
				assert.Zero(t, n)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			d, metafile := tt.setup(t)
			out := filepath.Join(t.TempDir(), "out", "sample.bin")
			n, err := tt.run(d, metafile, out)
			tt.assert(t, out, n, err)
		})
	}
}
