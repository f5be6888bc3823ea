package control

// CreateCtrlRespLinkRequest registers the controller's reply endpoint.
type CreateCtrlRespLinkRequest struct {
	IP   string `json:"IP"`
	Port int    `json:"Port"`
}

// CreateVnetRequest describes the VirtualNetwork to create.
type CreateVnetRequest struct {
	InterfaceName   string `json:"InterfaceName"`
	L2TunnelEnabled bool   `json:"L2TunnelEnabled"`
	IP4             string `json:"IP4,omitempty"`
	Prefix4         int    `json:"Prefix4,omitempty"`
	MTU4            int    `json:"MTU4,omitempty"`
}

// PeerDescriptorWire is the wire form of PeerDescriptor, spec §3.
type PeerDescriptorWire struct {
	UID         string `json:"UID"`
	VIP4        string `json:"VIP4,omitempty"`
	VIP6        string `json:"VIP6,omitempty"`
	MAC         string `json:"MAC"`
	Fingerprint string `json:"Fingerprint"`
	CAS         string `json:"CAS,omitempty"`
}

// VlinkDescriptorWire is the wire form of VlinkDescriptor, spec §3.
type VlinkDescriptorWire struct {
	Name       string `json:"Name"`
	SecEnabled bool   `json:"SecEnabled"`
	StunAddr   string `json:"StunAddr,omitempty"`
	TurnAddr   string `json:"TurnAddr,omitempty"`
	TurnUser   string `json:"TurnUser,omitempty"`
	TurnPass   string `json:"TurnPass,omitempty"`
}

// CreateLinkListenerRequest allocates a VirtualLink awaiting the peer's CAS.
type CreateLinkListenerRequest struct {
	PeerDescriptorWire
	VlinkDescriptorWire
}

// ConnectToPeerRequest applies a peer descriptor and remote CAS.
type ConnectToPeerRequest struct {
	PeerDescriptorWire
	VlinkDescriptorWire
}

// RemovePeerRequest tears down a link by mac.
type RemovePeerRequest struct {
	InterfaceName string `json:"InterfaceName"`
	MAC           string `json:"MAC"`
}

// RouteUpdate is one dest|via pair in an UpdateMapRequest.
type RouteUpdate struct {
	DestMAC string `json:"DestMAC"`
	PathMAC string `json:"PathMAC"`
}

// UpdateMapRequest applies zero or more route updates.
type UpdateMapRequest struct {
	Updates []RouteUpdate `json:"Updates"`
}

// ICCRequest transmits or reports an opaque ICC payload: the request body of
// the spec §6 ICC command and of the ICC controller notification.
// UpdateRoutes notifications use UpdateRoutesNotification instead.
type ICCRequest struct {
	MAC     string `json:"MAC"`
	Payload string `json:"Payload"` // hex-encoded
}

// InjectFrameRequest injects a hex-encoded Ethernet frame into the TAP.
type InjectFrameRequest struct {
	Payload string `json:"Payload"` // hex-encoded
}

// QueryNodeInfoRequest asks for local info, or stats for one peer when MAC
// is set (supplemented from original_source, see SPEC_FULL.md §4).
type QueryNodeInfoRequest struct {
	MAC string `json:"MAC,omitempty"`
}

// SetLoggingLevelRequest is one of NONE, ERROR, WARNING, INFO, VERBOSE,
// SENSITIVE.
type SetLoggingLevelRequest struct {
	Level string `json:"Level"`
}

// SetIgnoredNetInterfacesRequest restricts which host NICs ICE may use.
type SetIgnoredNetInterfacesRequest struct {
	Interfaces []string `json:"Interfaces"`
}

// EchoRequest is a diagnostic round-trip payload.
type EchoRequest struct {
	Message string `json:"Message"`
}

// UpdateRoutesNotification is sent to the controller when a TAP or overlay
// frame has no known adjacency or route, spec §4.5/§4.6.
type UpdateRoutesNotification struct {
	DestMAC string `json:"DestMAC"`
	Payload string `json:"Payload"` // hex-encoded
}
