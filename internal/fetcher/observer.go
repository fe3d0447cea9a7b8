package fetcher

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// logObserver 把下载事件写入 debug 日志，进度日志按 interval 节流。
type logObserver struct {
	log      *logrus.Entry
	progress rate.Sometimes
}

func newLogObserver(log *logrus.Entry, interval time.Duration) *logObserver {
	return &logObserver{
		log:      log,
		progress: rate.Sometimes{Interval: interval},
	}
}

func (o *logObserver) Started(_ string, total int64) {
	o.log.WithField("total", total).Debug("transfer started")
}

func (o *logObserver) Progress(_ string, received, total int64) {
	o.progress.Do(func() {
		fields := logrus.Fields{
			"received": received,
			"total":    total,
		}
		if total > 0 {
			fields["percent"] = received * 100 / total
		}
		o.log.WithFields(fields).Debug("transfer progress")
	})
}

func (o *logObserver) Completed(_ string, err error) {
	if err != nil {
		o.log.WithError(err).Debug("transfer aborted")
		return
	}
	o.log.Debug("transfer completed")
}
