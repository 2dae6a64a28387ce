// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package stream planeja e executa a entrega de um intervalo de bytes como
// uma sequência de chunks alinhados. O upstream só serve chunks cujo offset
// é múltiplo do tamanho do chunk, então um Range arbitrário vira: chunk
// inicial cortado na cabeça, chunks inteiros no meio e chunk final cortado
// na cauda.
package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsatisfiable indica um Range fora do arquivo (HTTP 416).
var ErrUnsatisfiable = errors.New("stream: requested range not satisfiable")

// Plan descreve como servir o intervalo inclusivo [Start, End].
type Plan struct {
	Start int64 // primeiro byte pedido
	End   int64 // último byte pedido (inclusivo)

	ChunkSize  int64
	OffsetBase int64 // offset alinhado do primeiro fetch
	FirstCut   int64 // bytes descartados na cabeça do primeiro chunk
	LastCut    int64 // bytes mantidos na cauda do último chunk
	PartCount  int64 // total de fetches planejados
}

// NewPlan monta o plano de fetch para o intervalo. start e end devem estar
// validados contra o tamanho do arquivo (ver ParseRange).
func NewPlan(start, end, chunkSize int64) Plan {
	offsetBase := start - start%chunkSize
	return Plan{
		Start:      start,
		End:        end,
		ChunkSize:  chunkSize,
		OffsetBase: offsetBase,
		FirstCut:   start - offsetBase,
		LastCut:    end%chunkSize + 1,
		PartCount:  (end+chunkSize)/chunkSize - offsetBase/chunkSize,
	}
}

// Length retorna quantos bytes o plano entrega.
func (p Plan) Length() int64 {
	return p.End - p.Start + 1
}

// ParseRange interpreta um header Range de range único sobre um arquivo de
// fileSize bytes. Header vazio significa o arquivo inteiro. Formas aceitas:
//
//	bytes=s-e   intervalo inclusivo
//	bytes=s-    de s até o fim
//	bytes=-n    últimos n bytes
//
// Retorna ErrUnsatisfiable para ranges malformados ou fora do arquivo.
func ParseRange(header string, fileSize int64) (start, end int64, err error) {
	if header == "" {
		return 0, fileSize - 1, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnsatisfiable, header)
	}
	// Range múltiplo não é suportado.
	if strings.Contains(spec, ",") {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnsatisfiable, header)
	}

	first, last, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnsatisfiable, header)
	}

	if first == "" {
		// Forma sufixo: últimos n bytes.
		n, perr := strconv.ParseInt(last, 10, 64)
		if perr != nil || n <= 0 {
			return 0, 0, fmt.Errorf("%w: %q", ErrUnsatisfiable, header)
		}
		if n > fileSize {
			n = fileSize
		}
		return fileSize - n, fileSize - 1, nil
	}

	start, perr := strconv.ParseInt(first, 10, 64)
	if perr != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnsatisfiable, header)
	}

	if last == "" {
		end = fileSize - 1
	} else {
		if end, perr = strconv.ParseInt(last, 10, 64); perr != nil {
			return 0, 0, fmt.Errorf("%w: %q", ErrUnsatisfiable, header)
		}
	}

	if start < 0 || end < start || end >= fileSize {
		return 0, 0, fmt.Errorf("%w: %d-%d of %d bytes", ErrUnsatisfiable, start, end, fileSize)
	}
	return start, end, nil
}
