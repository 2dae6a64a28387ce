// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package fileid decodifica o descriptor opaco de arquivo produzido pelo
// backend upstream e constrói o InputLocation usado nos fetches de chunk.
//
// O formato no wire é: campos binários little-endian → RLE (runs de 0x00
// viram par 0x00+count) → base64 URL-safe sem padding. O layout binário:
//
//	[Version 1B] [TypeFlags uint32] [DCID uint32]
//	[FileRefLen uint16 + FileReference]   (se bit FlagFileReference)
//	[MediaID int64] [AccessHash int64]
//	+ payload específico do tipo (thumb, volume/local, peer do chat photo)
package fileid

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedDescriptor indica um descriptor truncado, corrompido ou com
// type tag desconhecido.
var ErrMalformedDescriptor = errors.New("fileid: malformed descriptor")

// Version é a versão atual do layout binário do descriptor.
const Version byte = 0x01

// FlagFileReference marca a presença do file_reference no descriptor.
const FlagFileReference uint32 = 1 << 25

// typeMask isola o type tag dos bits de flag.
const typeMask uint32 = (1 << 24) - 1

// Type identifica a classe de mídia do descriptor.
type Type uint32

// Type tags conhecidos. Os tipos "document-like" (vídeo, áudio, voice,
// sticker, animation, video note) compartilham o layout de Document.
const (
	TypeChatPhoto Type = 1
	TypePhoto     Type = 2
	TypeVoice     Type = 3
	TypeVideo     Type = 4
	TypeDocument  Type = 5
	TypeSticker   Type = 8
	TypeAudio     Type = 9
	TypeAnimation Type = 10
	TypeVideoNote Type = 13
)

// IsDocumentLike retorna true para tipos que usam DocumentLocation.
func (t Type) IsDocumentLike() bool {
	switch t {
	case TypeDocument, TypeVideo, TypeAudio, TypeVoice, TypeSticker, TypeAnimation, TypeVideoNote:
		return true
	}
	return false
}

func (t Type) String() string {
	switch t {
	case TypeChatPhoto:
		return "chat_photo"
	case TypePhoto:
		return "photo"
	case TypeVoice:
		return "voice"
	case TypeVideo:
		return "video"
	case TypeDocument:
		return "document"
	case TypeSticker:
		return "sticker"
	case TypeAudio:
		return "audio"
	case TypeAnimation:
		return "animation"
	case TypeVideoNote:
		return "video_note"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// Descriptor é a forma decodificada do file descriptor. Imutável depois de
// resolvido: o cache guarda o ponteiro e streams concorrentes só leem.
type Descriptor struct {
	Type          Type
	DCID          int
	MediaID       int64
	AccessHash    int64
	FileReference []byte
	ThumbSize     string

	// Campos específicos de photo/chat photo
	VolumeID       int64
	LocalID        int32
	ChatID         int64
	ChatAccessHash int64
	Big            bool

	// Metadados da mensagem, preenchidos pelo resolve (GetMessage).
	// UniqueID é estável entre refetches; file_reference NÃO é.
	UniqueID string
	FileSize int64
	MimeType string
	FileName string
}

// HashPrefix retorna os 6 primeiros caracteres do UniqueID, usado como hash de URL.
func (d *Descriptor) HashPrefix() string {
	if len(d.UniqueID) < 6 {
		return d.UniqueID
	}
	return d.UniqueID[:6]
}

// Decode decodifica um descriptor opaco (base64 URL-safe → RLE → binário).
func Decode(s string) (*Descriptor, error) {
	if s == "" {
		return nil, ErrMalformedDescriptor
	}

	packed, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}

	raw, err := rleDecode(packed)
	if err != nil {
		return nil, err
	}

	r := &binReader{buf: raw}

	version := r.byte()
	if version != Version {
		return nil, fmt.Errorf("%w: version %d", ErrMalformedDescriptor, version)
	}

	typeFlags := r.uint32()
	dcID := r.uint32()

	d := &Descriptor{
		Type: Type(typeFlags & typeMask),
		DCID: int(dcID),
	}

	if typeFlags&FlagFileReference != 0 {
		d.FileReference = r.bytes16()
	}

	d.MediaID = r.int64()
	d.AccessHash = r.int64()

	switch {
	case d.Type.IsDocumentLike():
		d.ThumbSize = r.shortString()
	case d.Type == TypePhoto:
		d.ThumbSize = r.shortString()
		d.VolumeID = r.int64()
		d.LocalID = int32(r.uint32())
	case d.Type == TypeChatPhoto:
		d.ChatID = r.int64()
		d.ChatAccessHash = r.int64()
		d.VolumeID = r.int64()
		d.LocalID = int32(r.uint32())
		d.Big = r.byte() != 0
	default:
		return nil, fmt.Errorf("%w: unknown type tag %d", ErrMalformedDescriptor, uint32(d.Type))
	}

	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDescriptor, r.err)
	}

	return d, nil
}

// Encode serializa o Descriptor de volta para a forma opaca.
// Usado pelos testes e pelo fake upstream; o gateway em produção só decodifica.
func Encode(d *Descriptor) string {
	w := &binWriter{}

	w.byte(Version)

	typeFlags := uint32(d.Type)
	if len(d.FileReference) > 0 {
		typeFlags |= FlagFileReference
	}
	w.uint32(typeFlags)
	w.uint32(uint32(d.DCID))

	if len(d.FileReference) > 0 {
		w.bytes16(d.FileReference)
	}

	w.int64(d.MediaID)
	w.int64(d.AccessHash)

	switch {
	case d.Type.IsDocumentLike():
		w.shortString(d.ThumbSize)
	case d.Type == TypePhoto:
		w.shortString(d.ThumbSize)
		w.int64(d.VolumeID)
		w.uint32(uint32(d.LocalID))
	case d.Type == TypeChatPhoto:
		w.int64(d.ChatID)
		w.int64(d.ChatAccessHash)
		w.int64(d.VolumeID)
		w.uint32(uint32(d.LocalID))
		if d.Big {
			w.byte(1)
		} else {
			w.byte(0)
		}
	}

	return base64.RawURLEncoding.EncodeToString(rleEncode(w.buf))
}

// rleDecode expande runs de zero: o par (0x00, N) vira N bytes 0x00.
func rleDecode(b []byte) ([]byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != 0 {
			out = append(out, b[i])
			continue
		}
		i++
		if i >= len(b) {
			return nil, fmt.Errorf("%w: dangling rle marker", ErrMalformedDescriptor)
		}
		for j := byte(0); j < b[i]; j++ {
			out = append(out, 0)
		}
	}
	return out, nil
}

// rleEncode comprime runs de zero no par (0x00, count).
func rleEncode(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); {
		if b[i] != 0 {
			out = append(out, b[i])
			i++
			continue
		}
		count := byte(0)
		for i < len(b) && b[i] == 0 && count < 255 {
			count++
			i++
		}
		out = append(out, 0, count)
	}
	return out
}

// binReader lê campos little-endian acumulando o primeiro erro.
type binReader struct {
	buf []byte
	pos int
	err error
}

func (r *binReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.buf) {
		r.err = errors.New("unexpected end of descriptor")
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *binReader) byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *binReader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *binReader) int64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

func (r *binReader) bytes16() []byte {
	b := r.take(2)
	if b == nil {
		return nil
	}
	n := int(binary.LittleEndian.Uint16(b))
	data := r.take(n)
	if data == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, data)
	return out
}

func (r *binReader) shortString() string {
	n := int(r.byte())
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

// binWriter escreve campos little-endian.
type binWriter struct {
	buf []byte
}

func (w *binWriter) byte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *binWriter) uint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *binWriter) int64(v int64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v))
}

func (w *binWriter) bytes16(b []byte) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *binWriter) shortString(s string) {
	w.byte(byte(len(s)))
	w.buf = append(w.buf, s...)
}
