// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// sampleInterval é o intervalo de coleta das métricas de sistema. O status
// JSON serve sempre a última amostra; nenhum request dispara coleta síncrona.
const sampleInterval = 15 * time.Second

// SystemStats é o bloco "system" do status JSON.
type SystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	LoadAverage   float64 `json:"load_average"`
}

// SystemMonitor amostra CPU, memória e load average em background para o
// endpoint de status do gateway.
type SystemMonitor struct {
	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu     sync.RWMutex
	latest SystemStats
}

func NewSystemMonitor(logger *slog.Logger) *SystemMonitor {
	return &SystemMonitor{
		logger: logger.With("component", "system_monitor"),
		stopCh: make(chan struct{}),
	}
}

// Start liga a coleta periódica. A primeira amostra é colhida imediatamente
// para o status não servir zeros logo após o boot.
func (m *SystemMonitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.store(m.sample())

		ticker := time.NewTicker(sampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.store(m.sample())
			}
		}
	}()
}

func (m *SystemMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Stats retorna a última amostra colhida.
func (m *SystemMonitor) Stats() SystemStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// sample colhe as métricas. Falha de uma métrica não invalida as demais;
// o campo correspondente fica zerado até a próxima amostra.
func (m *SystemMonitor) sample() SystemStats {
	var s SystemStats

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	} else if err != nil {
		m.logger.Debug("cpu sample failed", "error", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vm.UsedPercent
	} else {
		m.logger.Debug("memory sample failed", "error", err)
	}

	if avg, err := load.Avg(); err == nil {
		s.LoadAverage = avg.Load1
	} else {
		m.logger.Debug("load sample failed", "error", err)
	}

	return s
}

func (m *SystemMonitor) store(s SystemStats) {
	m.mu.Lock()
	m.latest = s
	m.mu.Unlock()
}
