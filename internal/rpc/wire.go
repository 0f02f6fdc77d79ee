// Package rpc implements the client wire protocol: little-endian, 64-bit
// aligned framed messages in and out of the control loop's MessageBuff
// and ConnToSend queues (spec §6). The core never sees a socket; it only
// consumes decoded request bodies and produces encoded response bodies.
package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Mark identifies a message's wire type.
type Mark uint32

const (
	MarkRequestRegister           Mark = 1
	MarkRequestAcquireResource    Mark = 2
	MarkResponseAcquireResource   Mark = 3
	MarkRequestReturnResource     Mark = 4
	MarkRequestDDLManipulateQueue Mark = 5
	MarkRequestDDLManipulateRole  Mark = 6
)

// DDLAction is the action field of REQUEST_QD_DDL_MANIPULATERESQUEUE and
// REQUEST_QD_DDL_MANIPULATEROLE.
type DDLAction uint32

const (
	DDLCreate DDLAction = 1
	DDLAlter  DDLAction = 2
	DDLDrop   DDLAction = 3
)

const align = 8

// pad returns the padding needed to bring n up to the next 8-byte
// boundary, implementing "all sections 64-bit aligned".
func pad(n int) int {
	r := n % align
	if r == 0 {
		return 0
	}
	return align - r
}

func writeAligned(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
	if p := pad(len(s) + 1); p > 0 {
		buf.Write(make([]byte, p))
	}
}

func readAligned(r *bytes.Reader) (string, error) {
	var raw []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", fmt.Errorf("rpc: unterminated string: %w", err)
		}
		if b == 0 {
			break
		}
		raw = append(raw, b)
	}
	if p := pad(len(raw) + 1); p > 0 {
		if _, err := r.Seek(int64(p), 1); err != nil {
			return "", fmt.Errorf("rpc: string padding: %w", err)
		}
	}
	return string(raw), nil
}

// RegisterRequest is REQUEST_QD_REGISTER's body: (connId, user_name\0).
type RegisterRequest struct {
	ConnID   uint64
	UserName string
}

func EncodeRegisterRequest(req RegisterRequest) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, req.ConnID)
	writeAligned(&buf, req.UserName)
	return buf.Bytes()
}

func DecodeRegisterRequest(b []byte) (RegisterRequest, error) {
	r := bytes.NewReader(b)
	var req RegisterRequest
	if err := binary.Read(r, binary.LittleEndian, &req.ConnID); err != nil {
		return req, fmt.Errorf("rpc: decode connId: %w", err)
	}
	name, err := readAligned(r)
	if err != nil {
		return req, err
	}
	req.UserName = name
	return req, nil
}

// AcquireResourceRequest is REQUEST_QD_ACQUIRE_RESOURCE's body.
type AcquireResourceRequest struct {
	ConnID             uint64
	SessionID          uint64
	MaxSegCountFix     uint32
	MinSegCountFix     uint32
	VsegLimit          uint32
	VsegLimitPerSeg    uint32
	SliceSize          uint32
	IOBytes            uint64
	PreferredHosts     []string
	PreferredScanSizes []uint64
}

func EncodeAcquireResourceRequest(req AcquireResourceRequest) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, req.ConnID)
	binary.Write(&buf, binary.LittleEndian, req.SessionID)
	binary.Write(&buf, binary.LittleEndian, req.MaxSegCountFix)
	binary.Write(&buf, binary.LittleEndian, req.MinSegCountFix)
	binary.Write(&buf, binary.LittleEndian, req.VsegLimit)
	binary.Write(&buf, binary.LittleEndian, req.VsegLimitPerSeg)
	binary.Write(&buf, binary.LittleEndian, req.SliceSize)
	binary.Write(&buf, binary.LittleEndian, req.IOBytes)
	binary.Write(&buf, binary.LittleEndian, uint32(len(req.PreferredHosts)))
	buf.Write(make([]byte, pad(4)))
	for _, h := range req.PreferredHosts {
		writeAligned(&buf, h)
	}
	for _, s := range req.PreferredScanSizes {
		binary.Write(&buf, binary.LittleEndian, s)
	}
	return buf.Bytes()
}

func DecodeAcquireResourceRequest(b []byte) (AcquireResourceRequest, error) {
	r := bytes.NewReader(b)
	var req AcquireResourceRequest
	fields := []interface{}{
		&req.ConnID, &req.SessionID, &req.MaxSegCountFix, &req.MinSegCountFix,
		&req.VsegLimit, &req.VsegLimitPerSeg, &req.SliceSize, &req.IOBytes,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return req, fmt.Errorf("rpc: decode acquire header: %w", err)
		}
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return req, fmt.Errorf("rpc: decode preferred_count: %w", err)
	}
	if _, err := r.Seek(int64(pad(4)), 1); err != nil {
		return req, err
	}

	req.PreferredHosts = make([]string, count)
	for i := range req.PreferredHosts {
		h, err := readAligned(r)
		if err != nil {
			return req, err
		}
		req.PreferredHosts[i] = h
	}

	req.PreferredScanSizes = make([]uint64, count)
	for i := range req.PreferredScanSizes {
		if err := binary.Read(r, binary.LittleEndian, &req.PreferredScanSizes[i]); err != nil {
			return req, fmt.Errorf("rpc: decode preferred_scan_sizes: %w", err)
		}
	}

	return req, nil
}

// AcquireResourceResponse is RESPONSE_QD_ACQUIRE_RESOURCE's body.
type AcquireResourceResponse struct {
	Result      uint32
	SegCount    uint32
	SegMemMB    uint32
	SegCore     uint32
	HostCount   uint32
	HDFSIndex   []uint32
	HostOffsets []uint32
	HostInfo    []string
}

func EncodeAcquireResourceResponse(resp AcquireResourceResponse) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, resp.Result)
	buf.Write(make([]byte, 4)) // reserved
	binary.Write(&buf, binary.LittleEndian, resp.SegCount)
	binary.Write(&buf, binary.LittleEndian, resp.SegMemMB)
	binary.Write(&buf, binary.LittleEndian, resp.SegCore)
	binary.Write(&buf, binary.LittleEndian, resp.HostCount)
	buf.Write(make([]byte, 4)) // reserved

	for _, idx := range resp.HDFSIndex {
		binary.Write(&buf, binary.LittleEndian, idx)
	}
	if p := pad(len(resp.HDFSIndex) * 4); p > 0 {
		buf.Write(make([]byte, p))
	}
	for _, off := range resp.HostOffsets {
		binary.Write(&buf, binary.LittleEndian, off)
	}
	if p := pad(len(resp.HostOffsets) * 4); p > 0 {
		buf.Write(make([]byte, p))
	}
	for _, h := range resp.HostInfo {
		writeAligned(&buf, h)
	}
	return buf.Bytes()
}

func DecodeAcquireResourceResponse(b []byte) (AcquireResourceResponse, error) {
	r := bytes.NewReader(b)
	var resp AcquireResourceResponse
	if err := binary.Read(r, binary.LittleEndian, &resp.Result); err != nil {
		return resp, fmt.Errorf("rpc: decode result: %w", err)
	}
	if _, err := r.Seek(4, 1); err != nil {
		return resp, err
	}
	header := []interface{}{&resp.SegCount, &resp.SegMemMB, &resp.SegCore, &resp.HostCount}
	for _, f := range header {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return resp, fmt.Errorf("rpc: decode acquire response header: %w", err)
		}
	}
	if _, err := r.Seek(4, 1); err != nil {
		return resp, err
	}

	resp.HDFSIndex = make([]uint32, resp.SegCount)
	for i := range resp.HDFSIndex {
		if err := binary.Read(r, binary.LittleEndian, &resp.HDFSIndex[i]); err != nil {
			return resp, fmt.Errorf("rpc: decode hdfs_index: %w", err)
		}
	}
	if _, err := r.Seek(int64(pad(int(resp.SegCount)*4)), 1); err != nil {
		return resp, err
	}

	resp.HostOffsets = make([]uint32, resp.SegCount)
	for i := range resp.HostOffsets {
		if err := binary.Read(r, binary.LittleEndian, &resp.HostOffsets[i]); err != nil {
			return resp, fmt.Errorf("rpc: decode host_offsets: %w", err)
		}
	}
	if _, err := r.Seek(int64(pad(int(resp.SegCount)*4)), 1); err != nil {
		return resp, err
	}

	resp.HostInfo = make([]string, resp.HostCount)
	for i := range resp.HostInfo {
		h, err := readAligned(r)
		if err != nil {
			return resp, err
		}
		resp.HostInfo[i] = h
	}

	return resp, nil
}

// ReturnResourceRequest is REQUEST_QD_RETURN_RESOURCE's body.
type ReturnResourceRequest struct {
	ConnID uint64
}

func EncodeReturnResourceRequest(req ReturnResourceRequest) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, req.ConnID)
	return buf.Bytes()
}

func DecodeReturnResourceRequest(b []byte) (ReturnResourceRequest, error) {
	r := bytes.NewReader(b)
	var req ReturnResourceRequest
	if err := binary.Read(r, binary.LittleEndian, &req.ConnID); err != nil {
		return req, fmt.Errorf("rpc: decode connId: %w", err)
	}
	return req, nil
}

// DDLAttr is one key\0val\0 pair of REQUEST_QD_DDL_MANIPULATERESQUEUE.
type DDLAttr struct {
	Key   string
	Value string
}

// DDLManipulateQueueRequest is REQUEST_QD_DDL_MANIPULATERESQUEUE's body.
type DDLManipulateQueueRequest struct {
	ConnID uint64
	Action DDLAction
	Name   string
	Attrs  []DDLAttr
}

func EncodeDDLManipulateQueueRequest(req DDLManipulateQueueRequest) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, req.ConnID)
	binary.Write(&buf, binary.LittleEndian, uint32(req.Action))
	binary.Write(&buf, binary.LittleEndian, uint32(len(req.Attrs)))
	writeAligned(&buf, req.Name)
	for _, a := range req.Attrs {
		writeAligned(&buf, a.Key)
		writeAligned(&buf, a.Value)
	}
	return buf.Bytes()
}

func DecodeDDLManipulateQueueRequest(b []byte) (DDLManipulateQueueRequest, error) {
	r := bytes.NewReader(b)
	var req DDLManipulateQueueRequest
	if err := binary.Read(r, binary.LittleEndian, &req.ConnID); err != nil {
		return req, fmt.Errorf("rpc: decode connId: %w", err)
	}
	var action, attrCount uint32
	if err := binary.Read(r, binary.LittleEndian, &action); err != nil {
		return req, fmt.Errorf("rpc: decode action: %w", err)
	}
	req.Action = DDLAction(action)
	if err := binary.Read(r, binary.LittleEndian, &attrCount); err != nil {
		return req, fmt.Errorf("rpc: decode with_attr_length: %w", err)
	}
	name, err := readAligned(r)
	if err != nil {
		return req, err
	}
	req.Name = name

	req.Attrs = make([]DDLAttr, attrCount)
	for i := range req.Attrs {
		key, err := readAligned(r)
		if err != nil {
			return req, err
		}
		val, err := readAligned(r)
		if err != nil {
			return req, err
		}
		req.Attrs[i] = DDLAttr{Key: key, Value: val}
	}
	return req, nil
}

// DDLManipulateRoleRequest is REQUEST_QD_DDL_MANIPULATEROLE's body.
type DDLManipulateRoleRequest struct {
	Action      DDLAction
	RoleOID     uint32
	QueueOID    uint32
	IsSuperUser bool
	Name        string
}

func EncodeDDLManipulateRoleRequest(req DDLManipulateRoleRequest) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(req.Action))
	binary.Write(&buf, binary.LittleEndian, req.RoleOID)
	binary.Write(&buf, binary.LittleEndian, req.QueueOID)
	var isSuper uint32
	if req.IsSuperUser {
		isSuper = 1
	}
	binary.Write(&buf, binary.LittleEndian, isSuper)
	writeAligned(&buf, req.Name)
	return buf.Bytes()
}

func DecodeDDLManipulateRoleRequest(b []byte) (DDLManipulateRoleRequest, error) {
	r := bytes.NewReader(b)
	var req DDLManipulateRoleRequest
	var action, isSuper uint32
	fields := []interface{}{&action, &req.RoleOID, &req.QueueOID, &isSuper}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return req, fmt.Errorf("rpc: decode role request header: %w", err)
		}
	}
	req.Action = DDLAction(action)
	req.IsSuperUser = isSuper != 0
	name, err := readAligned(r)
	if err != nil {
		return req, err
	}
	req.Name = name
	return req, nil
}
