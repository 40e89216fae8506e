package core

import "encoding/json"

// Inbound message kinds.
const (
	KindRegister             = "register"
	KindCall                 = "call"
	KindIncomingCallResponse = "incomingCallResponse"
	KindLoopbackCall         = "loopbackCall"
	KindStop                 = "stop"
	KindOnICECandidate       = "onIceCandidate"
	KindStatus               = "status"
	KindNoop                 = "noop"
)

// Outbound message kinds.
const (
	KindRegisterResponse     = "registerResponse"
	KindUnregister           = "unregister"
	KindCalleeReady          = "calCalleeReady"
	KindIncomingCall         = "incomingCall"
	KindCallResponse         = "callResponse"
	KindStartCommunication   = "startCommunication"
	KindStopCommunication    = "stopCommunication"
	KindResetCommunication   = "resetCommunication"
	KindICECandidate         = "iceCandidate"
	KindLoopbackCallResponse = "loopbackCallResponse"
	KindStats                = "stats"
	KindStatusResponse       = "statusResponse"
	KindError                = "error"

	KindConnectionState = "stateConnectionStateChanged"
	KindMediaState      = "stateMediaStateChanged"
	KindMediaFlowIn     = "stateMediaFlowInStateChange"
	KindMediaFlowOut    = "stateMediaFlowOutStateChange"
)

const (
	ResponseAccepted = "accepted"
	ResponseRejected = "rejected"
	CallAccept       = "accept"
)

// Message is an inbound signaling message; only fields relevant to ID are set.
type Message struct {
	ID           string         `json:"id"`
	Name         string         `json:"name,omitempty"`
	Callee       string         `json:"callee,omitempty"`
	Opts         map[string]any `json:"opts,omitempty"`
	To           string         `json:"to,omitempty"`
	From         string         `json:"from,omitempty"`
	SDPOffer     string         `json:"sdpOffer,omitempty"`
	Bandwidth    int            `json:"bandwidth,omitempty"`
	CallResponse string         `json:"callResponse,omitempty"`
	Candidate    *Candidate     `json:"candidate,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Outbound is any message the broker sends to a connection.
type Outbound interface {
	MessageID() string
}

type Header struct {
	ID string `json:"id"`
}

func (h Header) MessageID() string { return h.ID }

type Response struct {
	Header
	Response  string `json:"response"`
	SDPAnswer string `json:"sdpAnswer,omitempty"`
	Message   string `json:"message,omitempty"`
}

type Notice struct {
	Header
	Message string `json:"message,omitempty"`
}

type IncomingCall struct {
	Header
	From string `json:"from"`
}

type StartCommunication struct {
	Header
	SDPAnswer string `json:"sdpAnswer"`
}

type ICECandidate struct {
	Header
	Candidate Candidate `json:"candidate"`
}

type Stats struct {
	Header
	My    bool         `json:"my"`
	Stats []StatSample `json:"stats"`
}

type StatusResponse struct {
	Header
	Info  *EngineInfo `json:"info,omitempty"`
	Error string      `json:"error,omitempty"`
}

type StateChange struct {
	Header
	State string `json:"state"`
	Type  string `json:"type,omitempty"`
	My    bool   `json:"my"`
}

func RegisterAccepted() Response {
	return Response{Header: Header{KindRegisterResponse}, Response: ResponseAccepted}
}

func RegisterRejected(reason string) Response {
	return Response{Header: Header{KindRegisterResponse}, Response: ResponseRejected, Message: reason}
}

func CallAccepted(answer string) Response {
	return Response{Header: Header{KindCallResponse}, Response: ResponseAccepted, SDPAnswer: answer}
}

func CallRejected(reason string) Response {
	return Response{Header: Header{KindCallResponse}, Response: ResponseRejected, Message: reason}
}

func LoopbackAccepted(answer string) Response {
	return Response{Header: Header{KindLoopbackCallResponse}, Response: ResponseAccepted, SDPAnswer: answer}
}

func LoopbackRejected(reason string) Response {
	return Response{Header: Header{KindLoopbackCallResponse}, Response: ResponseRejected, Message: reason}
}

func NewNotice(kind, message string) Notice {
	return Notice{Header: Header{kind}, Message: message}
}

func NewIncomingCall(from string) IncomingCall {
	return IncomingCall{Header: Header{KindIncomingCall}, From: from}
}

func NewStartCommunication(answer string) StartCommunication {
	return StartCommunication{Header: Header{KindStartCommunication}, SDPAnswer: answer}
}

func NewICECandidate(c Candidate) ICECandidate {
	return ICECandidate{Header: Header{KindICECandidate}, Candidate: c}
}

func NewStats(my bool, samples []StatSample) Stats {
	return Stats{Header: Header{KindStats}, My: my, Stats: samples}
}

func NewStatusResponse(info EngineInfo, err error) StatusResponse {
	if err != nil {
		return StatusResponse{Header: Header{KindStatusResponse}, Error: err.Error()}
	}
	return StatusResponse{Header: Header{KindStatusResponse}, Info: &info}
}
