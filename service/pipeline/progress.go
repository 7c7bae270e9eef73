package pipeline

import (
	"sync"
	"time"

	"survey-pipeline-service/service/config"
)

// advisoryProgress 本地计时器推进的提示性进度，与外部调用的真实完成无关。
// 进度按 step 递增直到 cap，调用结束时由 stop 停止，终态由调用结果决定。
type advisoryProgress struct {
	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

func startAdvisoryProgress(cfg config.ProgressConfig, report func(percent int)) *advisoryProgress {
	p := &advisoryProgress{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.Interval <= 0 || cfg.Step <= 0 {
		close(p.done)
		return p
	}

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		percent := 0
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				if percent >= cfg.Cap {
					continue
				}
				percent += cfg.Step
				if percent > cfg.Cap {
					percent = cfg.Cap
				}
				report(percent)
			}
		}
	}()
	return p
}

// stop 停止计时器并等待协程退出
func (p *advisoryProgress) stop() {
	p.once.Do(func() { close(p.stopCh) })
	<-p.done
}
