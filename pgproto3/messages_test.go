package pgproto3

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBackendMessageRoundTrip(t *testing.T) {
	tests := []BackendMessage{
		&AuthenticationOk{},
		&AuthenticationCleartextPassword{},
		&AuthenticationMD5Password{Salt: [4]byte{1, 2, 3, 4}},
		&ParameterStatus{Name: "server_version", Value: "16.1"},
		&BackendKeyData{ProcessID: 42, SecretKey: 99},
		&ReadyForQuery{TxStatus: 'I'},
		&RowDescription{Fields: []FieldDescription{
			{Name: "id", DataTypeOID: 23, DataTypeSize: 4, Format: 0},
			{Name: "name", DataTypeOID: 25, DataTypeSize: -1, Format: 0},
		}},
		&DataRow{Values: [][]byte{[]byte("1"), nil, []byte("hello")}},
		&CommandComplete{CommandTag: []byte("SELECT 1")},
		&EmptyQueryResponse{},
		&ParseComplete{},
		&BindComplete{},
		&CloseComplete{},
		&NoData{},
		&PortalSuspended{},
		&ParameterDescription{ParameterOIDs: []uint32{23, 25}},
		&NotificationResponse{PID: 1, Channel: "ch", Payload: "pl"},
		&ErrorResponse{Severity: "ERROR", Code: "22012", Message: "division by zero"},
		&NoticeResponse{Severity: "NOTICE", Code: "00000", Message: "hi"},
	}

	for _, msg := range tests {
		buf := msg.Encode(nil)
		require.True(t, len(buf) >= 5)

		bodyLen, err := getBodyLen(buf[1:])
		require.NoError(t, err)
		body := buf[5 : 5+int(bodyLen)]

		decoded := newZeroValue(msg)
		require.NoError(t, decoded.Decode(body))
		require.Equal(t, msg, decoded)
	}
}

func newZeroValue(msg BackendMessage) BackendMessage {
	switch msg.(type) {
	case *AuthenticationOk:
		return &AuthenticationOk{}
	case *AuthenticationCleartextPassword:
		return &AuthenticationCleartextPassword{}
	case *AuthenticationMD5Password:
		return &AuthenticationMD5Password{}
	case *ParameterStatus:
		return &ParameterStatus{}
	case *BackendKeyData:
		return &BackendKeyData{}
	case *ReadyForQuery:
		return &ReadyForQuery{}
	case *RowDescription:
		return &RowDescription{}
	case *DataRow:
		return &DataRow{}
	case *CommandComplete:
		return &CommandComplete{}
	case *EmptyQueryResponse:
		return &EmptyQueryResponse{}
	case *ParseComplete:
		return &ParseComplete{}
	case *BindComplete:
		return &BindComplete{}
	case *CloseComplete:
		return &CloseComplete{}
	case *NoData:
		return &NoData{}
	case *PortalSuspended:
		return &PortalSuspended{}
	case *ParameterDescription:
		return &ParameterDescription{}
	case *NotificationResponse:
		return &NotificationResponse{}
	case *ErrorResponse:
		return &ErrorResponse{}
	case *NoticeResponse:
		return &NoticeResponse{}
	default:
		panic("unhandled message type in test")
	}
}

func TestFrontendMessageRoundTrip(t *testing.T) {
	sm := &StartupMessage{
		ProtocolVersion: ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "alice", "database": "mux"},
	}
	buf := sm.Encode(nil)
	bodyLen, err := getBodyLen(buf)
	require.NoError(t, err)
	decodedSM := &StartupMessage{}
	require.NoError(t, decodedSM.Decode(buf[4 : 4+int(bodyLen)]))
	require.Equal(t, sm, decodedSM)

	tests := []FrontendMessage{
		&PasswordMessage{Password: "s3cr3t"},
		&Query{String: "select 1"},
		&Parse{Name: "s1", Query: "select $1", ParameterOIDs: []uint32{23}},
		&Describe{ObjectType: 'S', Name: "s1"},
		&Execute{Portal: "", MaxRows: 0},
		&Sync{},
		&Flush{},
		&Close{ObjectType: 'P', Name: ""},
		&Terminate{},
		&CancelRequest{ProcessID: 7, SecretKey: 9},
	}

	for _, msg := range tests {
		buf := msg.Encode(nil)
		require.True(t, len(buf) >= 4)
	}
}

func TestBindEncodedLenMatchesEncode(t *testing.T) {
	b := &Bind{
		DestinationPortal: "",
		PreparedStatement: "s1",
		ParameterFormatCodes: []int16{0},
		Parameters: []BindParameter{
			NewBindParameter([]byte("hello")),
			NewBindParameter(nil),
			NewBindParameter([]byte("world")),
		},
		ResultFormatCodes: []int16{0, 1, 0},
	}

	expectedLen, err := b.EncodedLen()
	require.NoError(t, err)

	buf, err := b.EncodeChecked(nil)
	require.NoError(t, err)

	bodyLen, err := getBodyLen(buf[1:])
	require.NoError(t, err)
	require.Equal(t, expectedLen, int(bodyLen)+4)
	require.Equal(t, len(buf), 1+int(bodyLen)+4)
}

func TestBindMissingDeclaredLengthFails(t *testing.T) {
	b := &Bind{
		Parameters: []BindParameter{nil},
	}
	_, err := b.EncodedLen()
	require.ErrorIs(t, err, ErrLengthRequired)

	_, err = b.EncodeChecked(nil)
	require.ErrorIs(t, err, ErrLengthRequired)
}
