package headers

// DatalinkConfig is the 4-bit dispatch discriminator carried in the low
// nibble of every datalink-layer header, per spec.md §4.1/§4.5.
type DatalinkConfig uint8

const (
	ConfigControlCredit DatalinkConfig = 0x0
	ConfigIPv4          DatalinkConfig = 0x3
	ConfigIPv6          DatalinkConfig = 0x4
	ConfigUBMem         DatalinkConfig = 0x9
)

// TPOpcode is the 7-bit transport-header opcode (spec.md §4.1).
type TPOpcode uint8

const (
	TPOpcodeUnreliableTA    TPOpcode = 0x0
	TPOpcodeReliableTA      TPOpcode = 0x1
	TPOpcodeAckNoCETPH      TPOpcode = 0x2
	TPOpcodeAckCETPH        TPOpcode = 0x3
	TPOpcodeSackNoCETPH     TPOpcode = 0x5
	TPOpcodeSackCETPH       TPOpcode = 0x6
	TPOpcodeCNP             TPOpcode = 0x8
)

// NextLayerProtocol is the transport header's 4-bit NLP field.
type NextLayerProtocol uint8

const (
	NLPTAH NextLayerProtocol = 0x0
	// NLPVirtualization (UPI/UEID) is out of scope per spec.md Non-goals;
	// the value is retained only so an on-wire 0x1 round-trips.
	NLPVirtualization NextLayerProtocol = 0x1
	NLPReserved       NextLayerProtocol = 0x2
	// NLPCIP (confidentiality/integrity protection) is out of scope.
	NLPCIP NextLayerProtocol = 0x3
)

// TAOpcode is the transaction header's 8-bit operation code.
type TAOpcode uint8

const (
	TAOpcodeWrite          TAOpcode = 0x01
	TAOpcodeRead           TAOpcode = 0x02
	TAOpcodeReadResponse   TAOpcode = 0x03
	TAOpcodeTransactionAck TAOpcode = 0x11
	TAOpcodeMax            TAOpcode = 0xFF
)

// OrderType is the transaction header's 3-bit ordering requirement.
type OrderType uint8

const (
	OrderNO OrderType = iota
	OrderRelax
	OrderStrong
	OrderReserved
)

// IniRcType is the 2-bit initiator resource-context type.
type IniRcType uint8

const (
	RequesterContext IniRcType = iota
	ResponderContext
	IniRcTypeReserved2
	IniRcTypeReserved3
)

// NetworkHeaderMode selects which union member of the congestion-control
// field in UbNetworkHeader / UbCna16NetworkHeader is populated.
type NetworkHeaderMode uint8

const (
	ModeCAQM    NetworkHeaderMode = 0b000
	ModeFecnRtt NetworkHeaderMode = 0b010
	ModeFecn    NetworkHeaderMode = 0b100
)

// UBPriorityNumDefault is the default number of virtual lanes (VL_NUM),
// also the default number of priority classes (spec.md §3: VL doubles as
// priority class). VL_NUM <= 16 always.
const UBPriorityNumDefault = 16
