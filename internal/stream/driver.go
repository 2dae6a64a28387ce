// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"context"
	"fmt"
	"io"
)

// ChunkSource fornece chunks alinhados do arquivo. offset deve ser múltiplo
// do chunk size do plano; o retorno pode ser mais curto que limit (fim de
// arquivo ou chunk adaptativo menor no upstream).
type ChunkSource interface {
	Fetch(ctx context.Context, offset int64, limit int) ([]byte, error)
}

// Stream percorre os parts do plano e escreve o intervalo pedido em w,
// cortando a cabeça do primeiro chunk e a cauda do último. Avança sempre
// pelo tamanho real lido e encerra cedo em leitura curta ou vazia. Depois
// que o primeiro byte foi escrito não há retry em nível de driver: um erro
// de fetch ou de escrita encerra o stream e aparece truncado para o client.
//
// Retorna o total de bytes escritos em w.
func Stream(ctx context.Context, w io.Writer, plan Plan, src ChunkSource) (int64, error) {
	var written int64
	offset := plan.OffsetBase

	for part := int64(0); part < plan.PartCount; part++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		data, err := src.Fetch(ctx, offset, int(plan.ChunkSize))
		if err != nil {
			return written, fmt.Errorf("fetching part %d at offset %d: %w", part, offset, err)
		}
		if len(data) == 0 {
			// Upstream sinalizou EOF antes do planejado.
			return written, nil
		}

		slice := data
		if plan.PartCount == 1 {
			slice = cut(data, plan.FirstCut, plan.LastCut)
		} else if part == 0 {
			if plan.FirstCut < int64(len(data)) {
				slice = data[plan.FirstCut:]
			} else {
				slice = nil
			}
		} else if part == plan.PartCount-1 {
			slice = cut(data, 0, plan.LastCut)
		}

		if len(slice) > 0 {
			n, werr := w.Write(slice)
			written += int64(n)
			if werr != nil {
				return written, fmt.Errorf("writing part %d: %w", part, werr)
			}
		}

		// Leitura curta encerra o stream: o próximo offset não estaria
		// mais alinhado com o plano.
		if int64(len(data)) < plan.ChunkSize && part < plan.PartCount-1 {
			return written, nil
		}
		offset += int64(len(data))
	}

	return written, nil
}

// cut aplica os cortes de cabeça e cauda a um chunk, tolerando chunks mais
// curtos que o planejado.
func cut(data []byte, head, tail int64) []byte {
	if head >= int64(len(data)) {
		return nil
	}
	if tail > int64(len(data)) {
		tail = int64(len(data))
	}
	if tail <= head {
		return nil
	}
	return data[head:tail]
}
