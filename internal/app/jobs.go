package app

import (
	"context"
	"errors"
	"time"

	"hostpulse/internal/eventbus"
	"hostpulse/internal/task/scheduler"
	"hostpulse/pkg/logx"
)

const (
	jobRefresh = "network.refresh"
	jobScan    = "devices.scan"
)

// refreshTimeout bounds one refresh. A full packet-loss batch alone can run for tens of seconds.
func refreshTimeout(interval time.Duration) time.Duration { return max(interval, 2*time.Minute) }

func (a *App) registerJobs(set settings) error {
	if err := a.sched.Add(jobRefresh, scheduler.Every(set.Refresh), refreshTimeout(set.Refresh), a.refreshNetwork); err != nil {
		return err
	}
	if set.Scan.Enabled {
		return a.sched.Add(jobScan, scheduler.Every(set.Scan.Interval), set.Scan.Interval, a.scanDevices)
	}
	return nil
}

// refreshNetwork refreshes the cache and announces the outcome on the bus.
func (a *App) refreshNetwork(ctx context.Context) error {
	if err := a.cache.Refresh(ctx); err != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.RefreshFailed, Data: err.Error()})
		return err
	}
	if snap, ok := a.cache.Snapshot(); ok {
		a.bus.Publish(eventbus.Event{Type: eventbus.NetworkRefreshed, Data: snap})
	}
	return nil
}

func (a *App) scanDevices(ctx context.Context) error {
	devs := a.scanner.Scan(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	a.cache.SetDevices(devs)
	a.bus.Publish(eventbus.Event{Type: eventbus.DevicesScanned, Data: devs})
	a.log.Debug("devices scanned", logx.Int("count", len(devs)))
	return nil
}

// applySchedules brings the job set in line with set. The scan job is added or removed as
// it is toggled.
func (a *App) applySchedules(set settings) {
	if err := a.sched.Reschedule(jobRefresh, scheduler.Every(set.Refresh)); err != nil {
		a.log.Warn("refresh reschedule failed", logx.Err(err))
	}
	if !set.Scan.Enabled {
		a.sched.Remove(jobScan)
		return
	}
	err := a.sched.Reschedule(jobScan, scheduler.Every(set.Scan.Interval))
	if errors.Is(err, scheduler.ErrUnknownJob) {
		err = a.sched.Add(jobScan, scheduler.Every(set.Scan.Interval), set.Scan.Interval, a.scanDevices)
	}
	if err != nil {
		a.log.Warn("scan reschedule failed", logx.Err(err))
	}
}
