// Package control implements ControlChannel and ControlDispatch (C7, C8):
// the localhost UDP control socket, its JSON envelope, and the
// command-name-to-handler table that drives one VirtualNetwork, spec §4.6,
// §4.7, §6.
package control

import "encoding/json"

// ProtocolVersion is the only TincanControl version this implementation
// speaks, spec §6.
const ProtocolVersion = 4

// DefaultPort is the control socket's default port, spec §6.
const DefaultPort = 5800

// Control type values, spec §6.
const (
	TypeRequest  = "TincanRequest"
	TypeResponse = "TincanResponse"
)

// Command names, spec §6's command table plus the two controller-bound
// notifications (UpdateRoutes, ICC) vnet.ControllerNotifier triggers.
const (
	CmdCreateCtrlRespLink       = "CreateCtrlRespLink"
	CmdCreateVnet               = "CreateVnet"
	CmdCreateLinkListener       = "CreateLinkListener"
	CmdConnectToPeer            = "ConnectToPeer"
	CmdRemovePeer               = "RemovePeer"
	CmdUpdateMap                = "UpdateMap"
	CmdICC                      = "ICC"
	CmdInjectFrame              = "InjectFrame"
	CmdQueryNodeInfo            = "QueryNodeInfo"
	CmdSetLoggingLevel          = "SetLoggingLevel"
	CmdSetIgnoredNetInterfaces  = "SetIgnoredNetInterfaces"
	CmdEcho                     = "Echo"
	cmdUpdateRoutesNotification = "UpdateRoutes"
)

// TincanControl is the wire envelope, spec §6.
type TincanControl struct {
	ProtocolVersion int              `json:"ProtocolVersion"`
	TransactionId   uint64           `json:"TransactionId"`
	ControlType     string           `json:"ControlType"`
	Command         string           `json:"Command"`
	Request         json.RawMessage  `json:"Request,omitempty"`
	Response        *ControlResponse `json:"Response,omitempty"`
}

// ControlResponse is the response payload, spec §6.
type ControlResponse struct {
	Message string `json:"Message"`
	Success bool   `json:"Success"`
}

func success(msg string) *ControlResponse { return &ControlResponse{Message: msg, Success: true} }
func failure(msg string) *ControlResponse { return &ControlResponse{Message: msg, Success: false} }
