package broker

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/opdflow/platform/pkg/common/logger"
	"github.com/opdflow/platform/pkg/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // stations are trusted; origin policy lives in the gateway
	},
}

// QueueMessage is one outbound live-view frame: the complete matching set
// after a change, in token order.
type QueueMessage struct {
	Type     string                   `json:"type"`
	Patients []registry.PatientRecord `json:"patients"`
}

// LiveHandler upgrades station connections to WebSocket and binds each one
// to a broker viewer. Inbound frames retarget the viewer's filter; the
// recommended client-side debounce for typed queries (~200ms) is a
// presentation concern.
type LiveHandler struct {
	broker *Broker
}

func NewLiveHandler(b *Broker) *LiveHandler {
	return &LiveHandler{broker: b}
}

func (h *LiveHandler) Register(router *mux.Router) {
	router.HandleFunc("/queue/live", h.handleLive).Methods(http.MethodGet)
}

func (h *LiveHandler) handleLive(w http.ResponseWriter, r *http.Request) {
	filter := Filter{
		Status: r.URL.Query().Get("status"),
		Query:  r.URL.Query().Get("q"),
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.WithError(err).Warn("live view upgrade failed")
		return
	}

	viewer := h.broker.Register(filter)

	go h.writePump(viewer, conn)
	h.readPump(viewer, conn)
}

// readPump consumes filter updates until the station disconnects, then
// releases the viewer.
func (h *LiveHandler) readPump(viewer *Viewer, conn *websocket.Conn) {
	defer func() {
		viewer.Close()
		conn.Close()
	}()

	for {
		var filter Filter
		if err := conn.ReadJSON(&filter); err != nil {
			return
		}
		viewer.SetFilter(filter)
	}
}

func (h *LiveHandler) writePump(viewer *Viewer, conn *websocket.Conn) {
	defer conn.Close()

	for patients := range viewer.Updates() {
		msg := QueueMessage{Type: "queue", Patients: patients}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
