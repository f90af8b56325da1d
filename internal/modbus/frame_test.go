package modbus

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wmind/edge-gateway/internal/gwerrors"
)

// fakeStream is an in-memory io.ReadWriter that captures the written request
// and serves a canned response, letting the framing client be tested without
// a real TCP connection.
type fakeStream struct {
	written  bytes.Buffer
	response bytes.Buffer
}

func (f *fakeStream) Write(p []byte) (int, error) { return f.written.Write(p) }
func (f *fakeStream) Read(p []byte) (int, error)  { return f.response.Read(p) }

func buildResponse(txID uint16, unitID byte, words []uint16) []byte {
	pdu := []byte{functionReadHoldingRegisters, byte(len(words) * 2)}
	for _, w := range words {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], w)
		pdu = append(pdu, b[:]...)
	}
	frame := make([]byte, 7)
	binary.BigEndian.PutUint16(frame[0:2], txID)
	binary.BigEndian.PutUint16(frame[2:4], 0)
	binary.BigEndian.PutUint16(frame[4:6], uint16(1+len(pdu)))
	frame[6] = unitID
	return append(frame, pdu...)
}

func TestReadHoldingRegisters_Success(t *testing.T) {
	stream := &fakeStream{}
	txBefore := transactionID
	want := []uint16{0x00C8, 0x1234}
	stream.response.Write(buildResponse(uint16(txBefore+1), 1, want))

	got, err := ReadHoldingRegisters(stream, 1, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadHoldingRegisters_TransactionIDMismatch(t *testing.T) {
	stream := &fakeStream{}
	stream.response.Write(buildResponse(0xFFFF, 1, []uint16{1}))

	_, err := ReadHoldingRegisters(stream, 1, 0, 1)
	require.Error(t, err)
	assert.Equal(t, gwerrors.KindProtocol, gwerrors.KindOf(err))
}

func TestReadHoldingRegisters_ExceptionCode(t *testing.T) {
	stream := &fakeStream{}
	txBefore := transactionID
	frame := make([]byte, 7)
	binary.BigEndian.PutUint16(frame[0:2], uint16(txBefore+1))
	binary.BigEndian.PutUint16(frame[4:6], 3)
	frame[6] = 1
	pdu := []byte{functionReadHoldingRegisters | exceptionBit, 0x02}
	stream.response.Write(append(frame, pdu...))

	_, err := ReadHoldingRegisters(stream, 1, 0, 1)
	require.Error(t, err)
	assert.Equal(t, gwerrors.KindProtocol, gwerrors.KindOf(err))
}

func TestReadHoldingRegisters_ByteCountMismatch(t *testing.T) {
	stream := &fakeStream{}
	txBefore := transactionID
	stream.response.Write(buildResponse(uint16(txBefore+1), 1, []uint16{1, 2, 3}))

	// ask for 2 registers, but the canned response declares 3
	_, err := ReadHoldingRegisters(stream, 1, 0, 2)
	require.Error(t, err)
	assert.Equal(t, gwerrors.KindProtocol, gwerrors.KindOf(err))
}

func TestReadHoldingRegisters_QuantityOutOfRange(t *testing.T) {
	stream := &fakeStream{}
	_, err := ReadHoldingRegisters(stream, 1, 0, 126)
	require.Error(t, err)
	assert.Equal(t, gwerrors.KindProtocol, gwerrors.KindOf(err))
}
