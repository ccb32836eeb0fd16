package emby

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

type wsMessage struct {
	MessageType string          `json:"MessageType"`
	Data        json.RawMessage `json:"Data"`
}

// ListenWebsocket subscribes to the Emby notification socket and invokes
// onLibraryChanged for library-change messages, so cached playback
// descriptors can be invalidated. Reconnects until ctx is cancelled.
func ListenWebsocket(ctx context.Context, baseURL, apiKey string, logger zerolog.Logger, onLibraryChanged func()) {
	log := logger.With().Str("component", "emby-ws").Logger()
	endpoint, err := websocketURL(baseURL, apiKey)
	if err != nil {
		log.Error().Err(err).Msg("bad websocket url")
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if err := listenOnce(ctx, endpoint, log, onLibraryChanged); err != nil {
			log.Warn().Err(err).Msg("websocket closed, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func listenOnce(ctx context.Context, endpoint string, log zerolog.Logger, onLibraryChanged func()) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	log.Info().Msg("listening to emby notifications")

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		switch msg.MessageType {
		case "LibraryChanged":
			// Data is Emby's change summary; only the counts matter here.
			added := gjson.GetBytes(msg.Data, "ItemsAdded.#").Int()
			removed := gjson.GetBytes(msg.Data, "ItemsRemoved.#").Int()
			log.Debug().Int64("added", added).Int64("removed", removed).Msg("library changed")
			if onLibraryChanged != nil {
				onLibraryChanged()
			}
		case "ForceKeepAlive", "KeepAlive":
			_ = conn.WriteJSON(wsMessage{MessageType: "KeepAlive"})
		}
	}
}

func websocketURL(baseURL, apiKey string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path += "/embywebsocket"
	q := u.Query()
	q.Set("api_key", apiKey)
	q.Set("deviceId", "embyproxy")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
