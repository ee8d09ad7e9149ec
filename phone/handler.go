package phone

// InfoMessage is the payload of a remote mid-call INFO.
type InfoMessage struct {
	ContentType string
	Body        string
}

// Handler receives user-facing notifications. Every method is called from
// the controller loop, at most once per engine event.
type Handler interface {
	Registered()
	Unregistered()
	IncomingCall(uri, displayName string)
	CallRinging()
	CallConnected()
	CallFailed()
	CallEnded()
	ConnectivityUpdate(state ConnectivityState)
	Info(msg InfoMessage)
}

// NopHandler ignores every notification. Embed it to implement only the
// notifications you care about.
type NopHandler struct{}

func (NopHandler) Registered()                          {}
func (NopHandler) Unregistered()                        {}
func (NopHandler) IncomingCall(uri, displayName string) {}
func (NopHandler) CallRinging()                         {}
func (NopHandler) CallConnected()                       {}
func (NopHandler) CallFailed()                          {}
func (NopHandler) CallEnded()                           {}
func (NopHandler) ConnectivityUpdate(ConnectivityState) {}
func (NopHandler) Info(InfoMessage)                     {}
