package tracker

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/WendelHime/swarmget/internal/shared/models"
	"github.com/jackpal/bencode-go"
)

type HTTPGetter struct {
	client *http.Client
	peerID models.PeerID
	port   int
}

func NewHTTPGetter(client *http.Client, peerID models.PeerID, port int) PeersGetter {
	return &HTTPGetter{client: client, peerID: peerID, port: port}
}

func (h *HTTPGetter) GetPeers(announce string, metafile models.Metafile) ([]models.Addr, error) {
	tracker, err := url.Parse(announce)
	if err != nil {
		return nil, err
	}

	query := tracker.Query()
	query.Set("info_hash", string(metafile.InfoHash[:]))
	query.Set("peer_id", string(h.peerID[:]))
	query.Set("port", strconv.Itoa(h.port))
	query.Set("uploaded", "0")
	query.Set("downloaded", "0")
	query.Set("left", strconv.Itoa(metafile.Info.Length))
	query.Set("compact", "1")
	tracker.RawQuery = query.Encode()

	response, err := h.client.Get(tracker.String())
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http error: %s", response.Status)
	}

	peersResp, err := decodeHTTPResponse(response.Body)
	if err != nil {
		return nil, err
	}

	slog.Debug("announce completed", slog.Int("interval", peersResp.Interval), slog.Int("peers", len(peersResp.Peers)))
	return peersResp.Peers, nil
}

func decodeHTTPResponse(response io.Reader) (peersWithAddresses, error) {
	resp := peersResponse{}
	if err := bencode.Unmarshal(response, &resp); err != nil {
		return peersWithAddresses{}, err
	}
	if resp.FailureReason != "" {
		return peersWithAddresses{}, fmt.Errorf("%w: %s", ErrTrackerFailure, resp.FailureReason)
	}

	peers, err := parseCompactPeers([]byte(resp.Peers))
	if err != nil {
		return peersWithAddresses{}, err
	}
	return peersWithAddresses{Peers: peers, Interval: resp.Interval}, nil
}

func parseCompactPeers(raw []byte) ([]models.Addr, error) {
	if len(raw)%6 != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidPeers, len(raw))
	}

	peers := make([]models.Addr, 0, len(raw)/6)
	for i := 0; i < len(raw); i += 6 {
		var addr models.Addr
		if err := addr.ReadFromBytes(raw[i : i+6]); err != nil {
			return nil, err
		}
		peers = append(peers, addr)
	}
	return peers, nil
}
