package stage

import (
	"time"

	"github.com/tinylib/msgp/msgp"
)

// Reports and files are encoded as MessagePack maps with the same keys as their JSON form.

// MarshalMsg implements msgp.Marshaler.
func (rep *Report) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendMapHeader(b, 5)
	b = msgp.AppendString(b, `profile`)
	b = msgp.AppendString(b, rep.Profile)
	b = msgp.AppendString(b, `started`)
	b = msgp.AppendTime(b, rep.Started)
	b = msgp.AppendString(b, `took`)
	b = msgp.AppendInt64(b, int64(rep.Took))
	b = msgp.AppendString(b, `error`)
	b = msgp.AppendString(b, rep.Err)
	b = msgp.AppendString(b, `files`)
	b = msgp.AppendArrayHeader(b, uint32(len(rep.Files)))
	for i := range rep.Files {
		var err error
		b, err = rep.Files[i].MarshalMsg(b)
		if err != nil {
			return b, err
		}
	}
	return b, nil
}

// UnmarshalMsg implements msgp.Unmarshaler, skipping keys it does not know.
func (rep *Report) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return b, err
	}
	*rep = Report{}
	for ; n > 0; n-- {
		var key []byte
		key, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return b, err
		}
		switch string(key) {
		case `profile`:
			rep.Profile, b, err = msgp.ReadStringBytes(b)
		case `started`:
			rep.Started, b, err = msgp.ReadTimeBytes(b)
		case `took`:
			var took int64
			took, b, err = msgp.ReadInt64Bytes(b)
			rep.Took = time.Duration(took)
		case `error`:
			rep.Err, b, err = msgp.ReadStringBytes(b)
		case `files`:
			rep.Files, b, err = readManifest(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return b, err
		}
	}
	return b, nil
}

// Msgsize implements msgp.Sizer.
func (rep *Report) Msgsize() int {
	n := msgp.MapHeaderSize +
		5*msgp.StringPrefixSize + len(`profile`+`started`+`took`+`error`+`files`) +
		msgp.StringPrefixSize + len(rep.Profile) +
		msgp.TimeSize +
		msgp.Int64Size +
		msgp.StringPrefixSize + len(rep.Err) +
		msgp.ArrayHeaderSize
	for i := range rep.Files {
		n += rep.Files[i].Msgsize()
	}
	return n
}

// readManifest reads an array of files, returning nil for an empty array or nil.
func readManifest(b []byte) (Manifest, []byte, error) {
	if msgp.IsNil(b) {
		b, err := msgp.ReadNilBytes(b)
		return nil, b, err
	}
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil || n == 0 {
		return nil, b, err
	}
	if int(n) > len(b) {
		return nil, b, msgp.ErrShortBytes
	}
	seq := make(Manifest, n)
	for i := range seq {
		b, err = seq[i].UnmarshalMsg(b)
		if err != nil {
			return nil, b, err
		}
	}
	return seq, b, nil
}

// MarshalMsg implements msgp.Marshaler.
func (file *File) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendMapHeader(b, 3)
	b = msgp.AppendString(b, `path`)
	b = msgp.AppendString(b, file.Path)
	b = msgp.AppendString(b, `size`)
	b = msgp.AppendInt64(b, file.Size)
	b = msgp.AppendString(b, `sha256`)
	b = msgp.AppendString(b, file.SHA256)
	return b, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (file *File) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return b, err
	}
	*file = File{}
	for ; n > 0; n-- {
		var key []byte
		key, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return b, err
		}
		switch string(key) {
		case `path`:
			file.Path, b, err = msgp.ReadStringBytes(b)
		case `size`:
			file.Size, b, err = msgp.ReadInt64Bytes(b)
		case `sha256`:
			file.SHA256, b, err = msgp.ReadStringBytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return b, err
		}
	}
	return b, nil
}

// Msgsize implements msgp.Sizer.
func (file *File) Msgsize() int {
	return msgp.MapHeaderSize +
		3*msgp.StringPrefixSize + len(`path`+`size`+`sha256`) +
		msgp.StringPrefixSize + len(file.Path) +
		msgp.Int64Size +
		msgp.StringPrefixSize + len(file.SHA256)
}
