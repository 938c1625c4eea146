// Package server exposes HTTP handlers, including WebSocket upgrades, the
// forms REST API, health checks, and the built-in test page.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/formsync/internal/collab"
	"github.com/Tyrowin/formsync/internal/form"
	"github.com/Tyrowin/formsync/internal/store"
)

// maxFormBodySize bounds POST /api/forms request bodies.
const maxFormBodySize = 1 << 20

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing json response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, errorResponse{Detail: detail})
}

func (s *Server) rejectHandshake(w http.ResponseWriter, r *http.Request, status int, reason string) {
	s.logger.Warn("websocket handshake rejected",
		"reason", reason,
		"status", status,
		"remote_addr", r.RemoteAddr,
	)
	if s.metrics != nil {
		s.metrics.RejectedHandshakes.WithLabelValues(reason).Inc()
	}
	http.Error(w, http.StatusText(status), status)
}

// WebSocketHandler authenticates the share_token query parameter, upgrades
// the connection, and hands it to the hub. A token that is missing or cannot
// be resolved is refused before the upgrade.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	token := r.URL.Query().Get("share_token")
	if !collab.ValidToken(token) {
		s.rejectHandshake(w, r, http.StatusForbidden, collab.Kind(collab.ErrInvalidToken))
		return
	}

	if _, err := s.sync.Authenticate(r.Context(), token); err != nil {
		if errors.Is(err, collab.ErrUnknownForm) {
			s.rejectHandshake(w, r, http.StatusNotFound, collab.Kind(collab.ErrUnknownForm))
			return
		}
		s.logger.Error("authenticating share token", "error", err)
		s.rejectHandshake(w, r, http.StatusInternalServerError, collab.Kind(err))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	connID := uuid.NewString()
	client := NewClient(conn, s.hub, connID, r.RemoteAddr, s.cfg, s.logger)
	client.session = s.sync.NewSession(connID, token, client)

	// Register the client with the hub; the hub will launch the pump goroutines.
	if !s.hub.Register(client) {
		s.logger.Info("rejecting connection during shutdown", "conn_id", connID)
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		client.closeConnection()
	}
}

// CreateFormHandler stores a new form and returns its id and share token.
func (s *Server) CreateFormHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)

	var def form.Definition
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid form definition: %v", err))
		return
	}
	if err := validateDefinition(def); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	created, err := s.forms.CreateForm(r.Context(), def)
	if err != nil {
		s.logger.Error("creating form", "error", err)
		s.writeError(w, http.StatusInternalServerError, "error creating form")
		return
	}

	s.logger.Info("form created", "form_id", created.ID, "fields", len(def.Fields))
	s.writeJSON(w, http.StatusCreated, created)
}

// GetFormHandler returns a form with its ordered fields and current responses.
func (s *Server) GetFormHandler(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "shareToken")

	f, err := s.forms.GetForm(r.Context(), token)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Form not found")
		return
	}
	if err != nil {
		s.logger.Error("retrieving form", "error", err)
		s.writeError(w, http.StatusInternalServerError, "error retrieving form")
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

func validateDefinition(def form.Definition) error {
	var errs []error
	if strings.TrimSpace(def.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	for i, f := range def.Fields {
		if strings.TrimSpace(string(f.Type)) == "" {
			errs = append(errs, fmt.Errorf("fields[%d].type is required", i))
		}
		if strings.TrimSpace(f.Label) == "" {
			errs = append(errs, fmt.Errorf("fields[%d].label is required", i))
		}
		if f.Type == form.TypeDropdown && len(f.Options) == 0 {
			errs = append(errs, fmt.Errorf("fields[%d].options must not be empty for dropdown fields", i))
		}
	}
	return errors.Join(errs...)
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "formsync server is running!")
}

// FaviconHandler answers browser favicon requests with an empty icon.
func FaviconHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "image/x-icon")
	w.WriteHeader(http.StatusOK)
}

// TestPageHandler serves an HTML page for exercising the sync endpoint by
// hand: connect with a share token, join under a name, and push field values.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		s.logger.Warn("writing html response", "error", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>formsync WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] {
            width: 220px;
            padding: 5px;
            margin-right: 10px;
        }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .row { margin: 8px 0; }
        .status {
            margin: 10px 0;
            padding: 5px;
            border-radius: 3px;
        }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>formsync WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div class="row">
        <input type="text" id="tokenInput" placeholder="Share token">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div class="row">
        <input type="text" id="usernameInput" placeholder="Your name" disabled>
        <button id="joinButton" onclick="join()" disabled>Join</button>
    </div>
    <div class="row">
        <input type="text" id="fieldInput" placeholder="Field id" disabled>
        <input type="text" id="valueInput" placeholder="Value" disabled>
        <button id="updateButton" onclick="sendUpdate()" disabled>Update</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');
        const controls = ['usernameInput', 'joinButton', 'fieldInput', 'valueInput', 'updateButton']
            .map(id => document.getElementById(id));

        function addMessage(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
            controls.forEach(c => c.disabled = !connected);
        }

        function connect() {
            const token = encodeURIComponent(document.getElementById('tokenInput').value.trim());
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?share_token=' + token);

            ws.onopen = () => { addMessage('Connected'); updateStatus(true); };
            ws.onmessage = (event) => {
                const msg = JSON.parse(event.data);
                if (msg.type === 'user_joined') {
                    addMessage(msg.username + ' joined', 'green');
                } else if (msg.type === 'user_left') {
                    addMessage(msg.username + ' left', 'green');
                } else if (msg.type === 'update') {
                    addMessage(msg.updated_by + ' set ' + msg.field_id + ' = ' + JSON.stringify(msg.value), 'blue');
                } else {
                    addMessage(event.data, 'red');
                }
            };
            ws.onclose = (event) => {
                addMessage('Connection closed' + (event.reason ? ': ' + event.reason : ''));
                updateStatus(false);
                ws = null;
            };
            ws.onerror = () => addMessage('Connection error', 'red');
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function join() {
            const username = document.getElementById('usernameInput').value.trim();
            ws.send(JSON.stringify({ type: 'join', username: username }));
        }

        function sendUpdate() {
            const fieldId = document.getElementById('fieldInput').value.trim();
            const value = document.getElementById('valueInput').value;
            ws.send(JSON.stringify({ type: 'update', field_id: fieldId, value: value }));
        }
    </script>
</body>
</html>`
