package wire

import "strconv"

// MessageType identifies a SignalR hub message.
type MessageType int

const (
	MessageTypeInvocation       MessageType = 1
	MessageTypeStreamItem       MessageType = 2
	MessageTypeCompletion       MessageType = 3
	MessageTypeStreamInvocation MessageType = 4
	MessageTypeCancelInvocation MessageType = 5
	MessageTypePing             MessageType = 6
	MessageTypeClose            MessageType = 7
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MessageTypeInvocation:
		return "INVOCATION"
	case MessageTypeStreamItem:
		return "STREAM_ITEM"
	case MessageTypeCompletion:
		return "COMPLETION"
	case MessageTypeStreamInvocation:
		return "STREAM_INVOCATION"
	case MessageTypeCancelInvocation:
		return "CANCEL_INVOCATION"
	case MessageTypePing:
		return "PING"
	case MessageTypeClose:
		return "CLOSE"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(t)) + ")"
	}
}

// DataType is the type code carried by a product update. It selects how the
// raw string value is coerced.
type DataType int

const (
	DataTypeBinary     DataType = 1
	DataTypeBoolean    DataType = 2
	DataTypeDouble     DataType = 3
	DataTypeInteger    DataType = 4
	DataTypePosition   DataType = 5
	DataTypeString     DataType = 6
	DataTypeStatistics DataType = 7
)

// String returns the data type name.
func (d DataType) String() string {
	switch d {
	case DataTypeBinary:
		return "BINARY"
	case DataTypeBoolean:
		return "BOOLEAN"
	case DataTypeDouble:
		return "DOUBLE"
	case DataTypeInteger:
		return "INTEGER"
	case DataTypePosition:
		return "POSITION"
	case DataTypeString:
		return "STRING"
	case DataTypeStatistics:
		return "STATISTICS"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(d)) + ")"
	}
}
