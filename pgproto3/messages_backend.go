package pgproto3

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// AuthenticationOk is sent when the server accepts the frontend's
// credentials (or none were required).
type AuthenticationOk struct{}

func (*AuthenticationOk) Backend() {}

func (dst *AuthenticationOk) Decode(src []byte) error {
	if len(src) != 4 {
		return errors.New("bad authentication message size")
	}
	if binary.BigEndian.Uint32(src) != 0 {
		return errors.New("bad auth type")
	}
	return nil
}

func (src *AuthenticationOk) Encode(dst []byte) []byte {
	dst = append(dst, 'R')
	dst = appendInt32(dst, 8)
	return appendUint32(dst, 0)
}

// AuthenticationCleartextPassword is sent when the server wants a plaintext
// password in a PasswordMessage.
type AuthenticationCleartextPassword struct{}

func (*AuthenticationCleartextPassword) Backend() {}

func (dst *AuthenticationCleartextPassword) Decode(src []byte) error {
	if len(src) != 4 {
		return errors.New("bad authentication message size")
	}
	if binary.BigEndian.Uint32(src) != 3 {
		return errors.New("bad auth type")
	}
	return nil
}

func (src *AuthenticationCleartextPassword) Encode(dst []byte) []byte {
	dst = append(dst, 'R')
	dst = appendInt32(dst, 8)
	return appendUint32(dst, 3)
}

// AuthenticationMD5Password is sent when the server wants an MD5-hashed
// password, salted with Salt, in a PasswordMessage.
type AuthenticationMD5Password struct {
	Salt [4]byte
}

func (*AuthenticationMD5Password) Backend() {}

func (dst *AuthenticationMD5Password) Decode(src []byte) error {
	if len(src) != 8 {
		return errors.New("bad authentication message size")
	}
	if binary.BigEndian.Uint32(src) != 5 {
		return errors.New("bad auth type")
	}
	copy(dst.Salt[:], src[4:8])
	return nil
}

func (src *AuthenticationMD5Password) Encode(dst []byte) []byte {
	dst = append(dst, 'R')
	dst = appendInt32(dst, 12)
	dst = appendUint32(dst, 5)
	return append(dst, src.Salt[:]...)
}

// ParameterStatus reports a runtime parameter value; it may arrive
// asynchronously at any point and is intercepted by the session.
type ParameterStatus struct {
	Name  string
	Value string
}

func (*ParameterStatus) Backend() {}

func (dst *ParameterStatus) Decode(src []byte) error {
	b := bytes.SplitN(src, []byte{0}, 3)
	if len(b) != 3 {
		return errors.New("bad parameter status message")
	}
	dst.Name = string(b[0])
	dst.Value = string(b[1])
	return nil
}

func (src *ParameterStatus) Encode(dst []byte) []byte {
	dst, lenAt := beginMsg(dst, 'S')
	dst = append(dst, src.Name...)
	dst = append(dst, 0)
	dst = append(dst, src.Value...)
	dst = append(dst, 0)
	return endMsg(dst, lenAt)
}

// BackendKeyData carries the process ID and secret key used to build a
// CancelRequest for this session.
type BackendKeyData struct {
	ProcessID uint32
	SecretKey uint32
}

func (*BackendKeyData) Backend() {}

func (dst *BackendKeyData) Decode(src []byte) error {
	if len(src) != 8 {
		return errors.New("bad backend key data size")
	}
	dst.ProcessID = binary.BigEndian.Uint32(src[0:4])
	dst.SecretKey = binary.BigEndian.Uint32(src[4:8])
	return nil
}

func (src *BackendKeyData) Encode(dst []byte) []byte {
	dst = append(dst, 'K')
	dst = appendInt32(dst, 12)
	dst = appendUint32(dst, src.ProcessID)
	return appendUint32(dst, src.SecretKey)
}

// ReadyForQuery reports the session's transaction status and drives the
// session state machine.
type ReadyForQuery struct {
	TxStatus byte
}

func (*ReadyForQuery) Backend() {}

func (dst *ReadyForQuery) Decode(src []byte) error {
	if len(src) != 1 {
		return errors.New("bad ready for query message")
	}
	dst.TxStatus = src[0]
	return nil
}

func (src *ReadyForQuery) Encode(dst []byte) []byte {
	dst = append(dst, 'Z')
	dst = appendInt32(dst, 5)
	return append(dst, src.TxStatus)
}

// FieldDescription describes one column of a RowDescription.
type FieldDescription struct {
	Name                 string
	TableOID             uint32
	TableAttributeNumber uint16
	DataTypeOID          uint32
	DataTypeSize         int16
	TypeModifier         int32
	Format               int16
}

// RowDescription enumerates the columns of the rows that will follow in
// DataRow messages.
type RowDescription struct {
	Fields []FieldDescription
}

func (*RowDescription) Backend() {}

func (dst *RowDescription) Decode(src []byte) error {
	if len(src) < 2 {
		return errors.New("bad row description message")
	}
	fieldCount := int(binary.BigEndian.Uint16(src))
	rp := 2

	dst.Fields = make([]FieldDescription, fieldCount)
	for i := 0; i < fieldCount; i++ {
		var fd FieldDescription
		idx := bytes.IndexByte(src[rp:], 0)
		if idx < 0 {
			return errors.New("bad row description field name")
		}
		fd.Name = string(src[rp : rp+idx])
		rp += idx + 1

		if len(src[rp:]) < 18 {
			return errors.New("bad row description field")
		}
		fd.TableOID = binary.BigEndian.Uint32(src[rp:])
		rp += 4
		fd.TableAttributeNumber = binary.BigEndian.Uint16(src[rp:])
		rp += 2
		fd.DataTypeOID = binary.BigEndian.Uint32(src[rp:])
		rp += 4
		fd.DataTypeSize = int16(binary.BigEndian.Uint16(src[rp:]))
		rp += 2
		fd.TypeModifier = int32(binary.BigEndian.Uint32(src[rp:]))
		rp += 4
		fd.Format = int16(binary.BigEndian.Uint16(src[rp:]))
		rp += 2

		dst.Fields[i] = fd
	}

	return nil
}

func (src *RowDescription) Encode(dst []byte) []byte {
	dst, lenAt := beginMsg(dst, 'T')
	dst = appendUint16(dst, uint16(len(src.Fields)))

	for _, fd := range src.Fields {
		dst = append(dst, fd.Name...)
		dst = append(dst, 0)
		dst = appendUint32(dst, fd.TableOID)
		dst = appendUint16(dst, fd.TableAttributeNumber)
		dst = appendUint32(dst, fd.DataTypeOID)
		dst = appendInt16(dst, fd.DataTypeSize)
		dst = appendInt32(dst, fd.TypeModifier)
		dst = appendInt16(dst, fd.Format)
	}

	return endMsg(dst, lenAt)
}

// DataRow carries one row of column values. A nil element means SQL NULL.
type DataRow struct {
	Values [][]byte
}

func (*DataRow) Backend() {}

func (dst *DataRow) Decode(src []byte) error {
	if len(src) < 2 {
		return errors.New("bad data row message")
	}
	colCount := int(binary.BigEndian.Uint16(src))
	rp := 2

	dst.Values = make([][]byte, colCount)
	for i := 0; i < colCount; i++ {
		if len(src[rp:]) < 4 {
			return errors.New("bad data row column length")
		}
		size := int32(binary.BigEndian.Uint32(src[rp:]))
		rp += 4

		if size == -1 {
			dst.Values[i] = nil
			continue
		}
		if len(src[rp:]) < int(size) {
			return errors.New("bad data row column value")
		}
		dst.Values[i] = src[rp : rp+int(size)]
		rp += int(size)
	}

	return nil
}

func (src *DataRow) Encode(dst []byte) []byte {
	dst, lenAt := beginMsg(dst, 'D')
	dst = appendUint16(dst, uint16(len(src.Values)))

	for _, v := range src.Values {
		if v == nil {
			dst = appendInt32(dst, -1)
			continue
		}
		dst = appendInt32(dst, int32(len(v)))
		dst = append(dst, v...)
	}

	return endMsg(dst, lenAt)
}

// CommandComplete reports the tag of a successfully completed command.
type CommandComplete struct {
	CommandTag []byte
}

func (*CommandComplete) Backend() {}

func (dst *CommandComplete) Decode(src []byte) error {
	if len(src) < 1 || src[len(src)-1] != 0 {
		return errors.New("bad command complete message")
	}
	dst.CommandTag = src[:len(src)-1]
	return nil
}

func (src *CommandComplete) Encode(dst []byte) []byte {
	dst, lenAt := beginMsg(dst, 'C')
	dst = append(dst, src.CommandTag...)
	dst = append(dst, 0)
	return endMsg(dst, lenAt)
}

// EmptyQueryResponse is sent in place of CommandComplete for an empty query
// string.
type EmptyQueryResponse struct{}

func (*EmptyQueryResponse) Backend() {}

func (dst *EmptyQueryResponse) Decode(src []byte) error {
	if len(src) != 0 {
		return errors.New("bad empty query response message")
	}
	return nil
}

func (src *EmptyQueryResponse) Encode(dst []byte) []byte {
	dst = append(dst, 'I')
	return appendInt32(dst, 4)
}

// ParseComplete acknowledges a Parse message.
type ParseComplete struct{}

func (*ParseComplete) Backend() {}

func (dst *ParseComplete) Decode(src []byte) error {
	if len(src) != 0 {
		return errors.New("bad parse complete message")
	}
	return nil
}

func (src *ParseComplete) Encode(dst []byte) []byte {
	dst = append(dst, '1')
	return appendInt32(dst, 4)
}

// BindComplete acknowledges a Bind message.
type BindComplete struct{}

func (*BindComplete) Backend() {}

func (dst *BindComplete) Decode(src []byte) error {
	if len(src) != 0 {
		return errors.New("bad bind complete message")
	}
	return nil
}

func (src *BindComplete) Encode(dst []byte) []byte {
	dst = append(dst, '2')
	return appendInt32(dst, 4)
}

// CloseComplete acknowledges a Close message.
type CloseComplete struct{}

func (*CloseComplete) Backend() {}

func (dst *CloseComplete) Decode(src []byte) error {
	if len(src) != 0 {
		return errors.New("bad close complete message")
	}
	return nil
}

func (src *CloseComplete) Encode(dst []byte) []byte {
	dst = append(dst, '3')
	return appendInt32(dst, 4)
}

// NoData is sent instead of RowDescription when a Describe(Portal) targets a
// statement with no result columns.
type NoData struct{}

func (*NoData) Backend() {}

func (dst *NoData) Decode(src []byte) error {
	if len(src) != 0 {
		return errors.New("bad no data message")
	}
	return nil
}

func (src *NoData) Encode(dst []byte) []byte {
	dst = append(dst, 'n')
	return appendInt32(dst, 4)
}

// PortalSuspended is sent when Execute's row limit was reached before the
// portal was exhausted.
type PortalSuspended struct{}

func (*PortalSuspended) Backend() {}

func (dst *PortalSuspended) Decode(src []byte) error {
	if len(src) != 0 {
		return errors.New("bad portal suspended message")
	}
	return nil
}

func (src *PortalSuspended) Encode(dst []byte) []byte {
	dst = append(dst, 's')
	return appendInt32(dst, 4)
}

// ParameterDescription describes the declared types of a prepared
// statement's parameters.
type ParameterDescription struct {
	ParameterOIDs []uint32
}

func (*ParameterDescription) Backend() {}

func (dst *ParameterDescription) Decode(src []byte) error {
	if len(src) < 2 {
		return errors.New("bad parameter description message")
	}
	count := int(binary.BigEndian.Uint16(src))
	rp := 2
	if len(src[rp:]) != count*4 {
		return errors.New("bad parameter description message")
	}
	dst.ParameterOIDs = make([]uint32, count)
	for i := 0; i < count; i++ {
		dst.ParameterOIDs[i] = binary.BigEndian.Uint32(src[rp:])
		rp += 4
	}
	return nil
}

func (src *ParameterDescription) Encode(dst []byte) []byte {
	dst, lenAt := beginMsg(dst, 't')
	dst = appendUint16(dst, uint16(len(src.ParameterOIDs)))
	for _, oid := range src.ParameterOIDs {
		dst = appendUint32(dst, oid)
	}
	return endMsg(dst, lenAt)
}

// NotificationResponse carries an asynchronous LISTEN/NOTIFY payload. Like
// ParameterStatus, it may arrive at any point and is intercepted by the
// session rather than surfaced to a command reader.
type NotificationResponse struct {
	PID     uint32
	Channel string
	Payload string
}

func (*NotificationResponse) Backend() {}

func (dst *NotificationResponse) Decode(src []byte) error {
	if len(src) < 4 {
		return errors.New("bad notification response message")
	}
	dst.PID = binary.BigEndian.Uint32(src)
	rest := src[4:]
	parts := bytes.SplitN(rest, []byte{0}, 3)
	if len(parts) != 3 {
		return errors.New("bad notification response message")
	}
	dst.Channel = string(parts[0])
	dst.Payload = string(parts[1])
	return nil
}

func (src *NotificationResponse) Encode(dst []byte) []byte {
	dst, lenAt := beginMsg(dst, 'A')
	dst = appendUint32(dst, src.PID)
	dst = append(dst, src.Channel...)
	dst = append(dst, 0)
	dst = append(dst, src.Payload...)
	dst = append(dst, 0)
	return endMsg(dst, lenAt)
}

// ErrorResponse carries a server-reported error. Fields follow the
// PostgreSQL ErrorResponse field-code convention.
type ErrorResponse struct {
	Severity         string
	SeverityUnlocalized string
	Code             string
	Message          string
	Detail           string
	Hint             string
	Position         int32
	InternalPosition int32
	InternalQuery    string
	Where            string
	SchemaName       string
	TableName        string
	ColumnName       string
	DataTypeName     string
	ConstraintName   string
	File             string
	Line             int32
	Routine          string

	UnknownFields map[byte]string
}

func (*ErrorResponse) Backend() {}

func (dst *ErrorResponse) Decode(src []byte) error {
	*dst = ErrorResponse{}
	rp := 0
	for rp < len(src) {
		fieldType := src[rp]
		rp++
		if fieldType == 0 {
			break
		}
		idx := bytes.IndexByte(src[rp:], 0)
		if idx < 0 {
			return errors.New("bad error response field")
		}
		value := string(src[rp : rp+idx])
		rp += idx + 1

		switch fieldType {
		case 'S':
			dst.Severity = value
		case 'V':
			dst.SeverityUnlocalized = value
		case 'C':
			dst.Code = value
		case 'M':
			dst.Message = value
		case 'D':
			dst.Detail = value
		case 'H':
			dst.Hint = value
		case 'P':
			dst.Position = parseInt32(value)
		case 'p':
			dst.InternalPosition = parseInt32(value)
		case 'q':
			dst.InternalQuery = value
		case 'W':
			dst.Where = value
		case 's':
			dst.SchemaName = value
		case 't':
			dst.TableName = value
		case 'c':
			dst.ColumnName = value
		case 'd':
			dst.DataTypeName = value
		case 'n':
			dst.ConstraintName = value
		case 'F':
			dst.File = value
		case 'L':
			dst.Line = parseInt32(value)
		case 'R':
			dst.Routine = value
		default:
			if dst.UnknownFields == nil {
				dst.UnknownFields = make(map[byte]string)
			}
			dst.UnknownFields[fieldType] = value
		}
	}
	return nil
}

func (src *ErrorResponse) Encode(dst []byte) []byte {
	dst, lenAt := beginMsg(dst, 'E')
	dst = errFieldsEncode(src, dst)
	dst = append(dst, 0)
	return endMsg(dst, lenAt)
}

func errFieldsEncode(src *ErrorResponse, dst []byte) []byte {
	appendField := func(code byte, v string) {
		if v == "" {
			return
		}
		dst = append(dst, code)
		dst = append(dst, v...)
		dst = append(dst, 0)
	}
	appendField('S', src.Severity)
	appendField('V', src.SeverityUnlocalized)
	appendField('C', src.Code)
	appendField('M', src.Message)
	appendField('D', src.Detail)
	appendField('H', src.Hint)
	if src.Position != 0 {
		appendField('P', itoa(src.Position))
	}
	if src.InternalPosition != 0 {
		appendField('p', itoa(src.InternalPosition))
	}
	appendField('q', src.InternalQuery)
	appendField('W', src.Where)
	appendField('s', src.SchemaName)
	appendField('t', src.TableName)
	appendField('c', src.ColumnName)
	appendField('d', src.DataTypeName)
	appendField('n', src.ConstraintName)
	appendField('F', src.File)
	if src.Line != 0 {
		appendField('L', itoa(src.Line))
	}
	appendField('R', src.Routine)
	for code, v := range src.UnknownFields {
		appendField(code, v)
	}
	return dst
}

// NoticeResponse has the same wire shape as ErrorResponse but is advisory:
// it is intercepted by the session and never surfaced as a command failure.
type NoticeResponse ErrorResponse

func (*NoticeResponse) Backend() {}

func (dst *NoticeResponse) Decode(src []byte) error {
	return (*ErrorResponse)(dst).Decode(src)
}

func (src *NoticeResponse) Encode(dst []byte) []byte {
	dst, lenAt := beginMsg(dst, 'N')
	dst = errFieldsEncode((*ErrorResponse)(src), dst)
	dst = append(dst, 0)
	return endMsg(dst, lenAt)
}
