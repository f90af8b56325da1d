// Package modbus implements the Modbus/TCP acquisition engine: the wire
// framing client, the register-plan builder, the numeric decoder and the
// per-device worker loop that ties them together.
package modbus

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/wmind/edge-gateway/internal/gwerrors"
)

const (
	functionReadHoldingRegisters = 0x03
	exceptionBit                 = 0x80
	mbapHeaderLen                = 7
)

var transactionID uint32

// nextTransactionID returns the next value of the process-global transaction
// counter. It exists only to detect mis-framing on the wire, never to
// multiplex requests on a stream.
func nextTransactionID() uint16 {
	return uint16(atomic.AddUint32(&transactionID, 1))
}

// ReadHoldingRegisters issues one Modbus-TCP function-3 request over rw and
// returns the decoded 16-bit words, big-endian. unitID is the slave's 1-byte
// address, start is the 0-based protocol address, quantity is 1-125.
func ReadHoldingRegisters(rw io.ReadWriter, unitID byte, start uint16, quantity uint16) ([]uint16, error) {
	if quantity < 1 || quantity > 125 {
		return nil, gwerrors.Protocol(fmt.Sprintf("quantity %d out of range [1,125]", quantity))
	}

	txID := nextTransactionID()
	req := make([]byte, 12)
	binary.BigEndian.PutUint16(req[0:2], txID)
	binary.BigEndian.PutUint16(req[2:4], 0) // protocol id
	binary.BigEndian.PutUint16(req[4:6], 6) // length: unit id + PDU
	req[6] = unitID
	req[7] = functionReadHoldingRegisters
	binary.BigEndian.PutUint16(req[8:10], start)
	binary.BigEndian.PutUint16(req[10:12], quantity)

	if _, err := rw.Write(req); err != nil {
		return nil, gwerrors.Transient("write modbus request", err)
	}

	header := make([]byte, mbapHeaderLen)
	if err := readExactly(rw, header); err != nil {
		return nil, gwerrors.Transient("read modbus header", err)
	}

	respTxID := binary.BigEndian.Uint16(header[0:2])
	protocolID := binary.BigEndian.Uint16(header[2:4])
	pduLen := binary.BigEndian.Uint16(header[4:6])

	if respTxID != txID {
		return nil, gwerrors.Protocol(fmt.Sprintf("transaction id mismatch: sent %d, got %d", txID, respTxID))
	}
	if protocolID != 0 {
		return nil, gwerrors.Protocol(fmt.Sprintf("unexpected protocol id %d", protocolID))
	}
	if pduLen < 2 {
		return nil, gwerrors.Protocol(fmt.Sprintf("pdu length %d too short", pduLen))
	}

	// header already consumed unit id; remaining PDU is pduLen-1 bytes
	// (pduLen counts unit id + function + payload).
	pdu := make([]byte, pduLen-1)
	if err := readExactly(rw, pdu); err != nil {
		return nil, gwerrors.Transient("read modbus pdu", err)
	}

	function := pdu[0]
	if function&exceptionBit != 0 {
		code := byte(0)
		if len(pdu) > 1 {
			code = pdu[1]
		}
		return nil, gwerrors.Protocol(fmt.Sprintf("modbus exception code %d (function %#x)", code, function&^exceptionBit))
	}
	if function != functionReadHoldingRegisters {
		return nil, gwerrors.Protocol(fmt.Sprintf("unexpected function code %#x", function))
	}

	byteCount := int(pdu[1])
	if byteCount != int(quantity)*2 {
		return nil, gwerrors.Protocol(fmt.Sprintf("byte count %d does not match quantity %d", byteCount, quantity))
	}
	if len(pdu)-2 < byteCount {
		return nil, gwerrors.Protocol("pdu shorter than declared byte count")
	}

	words := make([]uint16, quantity)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(pdu[2+i*2 : 4+i*2])
	}
	return words, nil
}

// readExactly fills buf entirely or returns an error; an EOF before buf is
// full is treated as an I/O failure, never a short read.
func readExactly(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return fmt.Errorf("unexpected eof mid-frame: %w", err)
	}
	return err
}
