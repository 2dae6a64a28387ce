// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fileid

import (
	"errors"
	"fmt"
)

// Kinds de location no wire (primeiro byte da forma serializada).
const (
	locationDocument  byte = 0x01
	locationPhoto     byte = 0x02
	locationPeerPhoto byte = 0x03
)

// PeerKind identifica o dono de um chat photo.
type PeerKind byte

const (
	PeerUser    PeerKind = 0x01
	PeerChat    PeerKind = 0x02
	PeerChannel PeerKind = 0x03
)

// zeroChannelID é a base dos ids "marcados" de channel no backend:
// um channel aparece em chat_id como -(1000000000000 + channel_id).
const zeroChannelID int64 = 1000000000000

// Peer referencia o dono de um chat photo.
type Peer struct {
	Kind       PeerKind
	ID         int64
	AccessHash int64
}

// Location é o endereço de fetch de um arquivo no upstream, serializável
// para o request GetChunk.
type Location interface {
	appendTo(w *binWriter)
}

// DocumentLocation endereça um documento (vídeo, áudio, arquivo genérico).
type DocumentLocation struct {
	MediaID       int64
	AccessHash    int64
	FileReference []byte
	ThumbSize     string
}

// PhotoLocation endereça uma foto de mensagem.
type PhotoLocation struct {
	MediaID       int64
	AccessHash    int64
	FileReference []byte
	ThumbSize     string
	VolumeID      int64
	LocalID       int32
}

// PeerPhotoLocation endereça a foto de perfil de um peer.
type PeerPhotoLocation struct {
	Peer     Peer
	VolumeID int64
	LocalID  int32
	Big      bool
}

func (l *DocumentLocation) appendTo(w *binWriter) {
	w.byte(locationDocument)
	w.int64(l.MediaID)
	w.int64(l.AccessHash)
	w.bytes16(l.FileReference)
	w.shortString(l.ThumbSize)
}

func (l *PhotoLocation) appendTo(w *binWriter) {
	w.byte(locationPhoto)
	w.int64(l.MediaID)
	w.int64(l.AccessHash)
	w.bytes16(l.FileReference)
	w.shortString(l.ThumbSize)
	w.int64(l.VolumeID)
	w.uint32(uint32(l.LocalID))
}

func (l *PeerPhotoLocation) appendTo(w *binWriter) {
	w.byte(locationPeerPhoto)
	w.byte(byte(l.Peer.Kind))
	w.int64(l.Peer.ID)
	w.int64(l.Peer.AccessHash)
	w.int64(l.VolumeID)
	w.uint32(uint32(l.LocalID))
	if l.Big {
		w.byte(1)
	} else {
		w.byte(0)
	}
}

// Location constrói o InputLocation apropriado ao tipo do descriptor.
// Para chat photos o peer é escolhido pela regra do backend: user quando
// chat_id > 0, channel quando há chat_access_hash, chat caso contrário.
func (d *Descriptor) Location() (Location, error) {
	switch {
	case d.Type.IsDocumentLike():
		return &DocumentLocation{
			MediaID:       d.MediaID,
			AccessHash:    d.AccessHash,
			FileReference: d.FileReference,
			ThumbSize:     d.ThumbSize,
		}, nil

	case d.Type == TypePhoto:
		return &PhotoLocation{
			MediaID:       d.MediaID,
			AccessHash:    d.AccessHash,
			FileReference: d.FileReference,
			ThumbSize:     d.ThumbSize,
			VolumeID:      d.VolumeID,
			LocalID:       d.LocalID,
		}, nil

	case d.Type == TypeChatPhoto:
		var peer Peer
		switch {
		case d.ChatID > 0:
			peer = Peer{Kind: PeerUser, ID: d.ChatID, AccessHash: d.ChatAccessHash}
		case d.ChatAccessHash != 0:
			peer = Peer{Kind: PeerChannel, ID: channelIDFrom(d.ChatID), AccessHash: d.ChatAccessHash}
		default:
			peer = Peer{Kind: PeerChat, ID: -d.ChatID}
		}
		return &PeerPhotoLocation{
			Peer:     peer,
			VolumeID: d.VolumeID,
			LocalID:  d.LocalID,
			Big:      d.Big,
		}, nil

	default:
		return nil, fmt.Errorf("%w: no location for type %s", ErrMalformedDescriptor, d.Type)
	}
}

// channelIDFrom converte um chat_id marcado de channel para o id real.
func channelIDFrom(chatID int64) int64 {
	return -chatID - zeroChannelID
}

// EncodeLocation serializa uma Location para o payload do GetChunk.
func EncodeLocation(l Location) []byte {
	w := &binWriter{}
	l.appendTo(w)
	return w.buf
}

// DecodeLocation desserializa uma Location (usado pelo fake upstream de teste
// e por qualquer server NSTP).
func DecodeLocation(b []byte) (Location, error) {
	r := &binReader{buf: b}
	kind := r.byte()

	var loc Location
	switch kind {
	case locationDocument:
		l := &DocumentLocation{}
		l.MediaID = r.int64()
		l.AccessHash = r.int64()
		l.FileReference = r.bytes16()
		l.ThumbSize = r.shortString()
		loc = l
	case locationPhoto:
		l := &PhotoLocation{}
		l.MediaID = r.int64()
		l.AccessHash = r.int64()
		l.FileReference = r.bytes16()
		l.ThumbSize = r.shortString()
		l.VolumeID = r.int64()
		l.LocalID = int32(r.uint32())
		loc = l
	case locationPeerPhoto:
		l := &PeerPhotoLocation{}
		l.Peer.Kind = PeerKind(r.byte())
		l.Peer.ID = r.int64()
		l.Peer.AccessHash = r.int64()
		l.VolumeID = r.int64()
		l.LocalID = int32(r.uint32())
		l.Big = r.byte() != 0
		loc = l
	default:
		return nil, fmt.Errorf("fileid: unknown location kind %d", kind)
	}

	if r.err != nil {
		return nil, fmt.Errorf("fileid: decoding location: %w", r.err)
	}
	if r.pos != len(b) {
		return nil, errors.New("fileid: trailing bytes in location")
	}
	return loc, nil
}
