package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/WendelHime/swarmget/internal/shared/models"
)

var (
	ErrEmptyAnnounce       = errors.New("announce url is empty")
	ErrUnsupportedProtocol = errors.New("unsupported tracker protocol")
	ErrInvalidPeers        = errors.New("compact peer list is not a multiple of 6 bytes")
	ErrTrackerFailure      = errors.New("tracker returned a failure")
)

type Tracker interface {
	GetPeers(models.Metafile) ([]models.Addr, error)
	WithHTTPClient(client *http.Client) Tracker
}

type PeersGetter interface {
	GetPeers(announce string, metafile models.Metafile) ([]models.Addr, error)
}

type tracker struct {
	AnnounceURL string
	PeerID      models.PeerID
	Port        int
	HTTPClient  PeersGetter
}

func NewTracker(announceURL string, peerID models.PeerID, port int) Tracker {
	return &tracker{
		AnnounceURL: announceURL,
		PeerID:      peerID,
		Port:        port,
		HTTPClient:  NewHTTPGetter(&http.Client{Timeout: 60 * time.Second}, peerID, port),
	}
}

func (t *tracker) WithHTTPClient(client *http.Client) Tracker {
	t.HTTPClient = NewHTTPGetter(client, t.PeerID, t.Port)
	return t
}

type peersResponse struct {
	FailureReason string `bencode:"failure reason"`
	Interval      int    `bencode:"interval"`
	Peers         string `bencode:"peers"`
}

type peersWithAddresses struct {
	Peers    []models.Addr
	Interval int
}

// GetPeers performs a single announce round trip.
func (t *tracker) GetPeers(metafile models.Metafile) ([]models.Addr, error) {
	if t.AnnounceURL == "" {
		return nil, ErrEmptyAnnounce
	}
	switch {
	case strings.HasPrefix(t.AnnounceURL, "http"):
		return t.HTTPClient.GetPeers(t.AnnounceURL, metafile)
	default:
		slog.Error("unsupported protocol", slog.String("announce-url", t.AnnounceURL))
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, t.AnnounceURL)
	}
}
