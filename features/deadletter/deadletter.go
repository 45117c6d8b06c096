package deadletter

import "time"

// Letter is a quarantined poison message.
type Letter struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	SourceID  string    `json:"source_id"`
	Consumer  string    `json:"consumer"`
	Payload   []byte    `json:"-"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}

// View is the JSON shape served by the handler. Payloads are not
// necessarily valid JSON, so they are returned as text.
type View struct {
	Letter
	Payload string `json:"payload"`
}

func (l Letter) View() View {
	return View{Letter: l, Payload: string(l.Payload)}
}
