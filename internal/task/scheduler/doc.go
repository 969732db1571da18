// Package scheduler triggers named jobs on cron or fixed-interval schedules.
//
// It wraps robfig/cron with a skip-if-running chain so a slow job never overlaps with its
// next tick, and bounds shutdown so a stuck job cannot stall process exit.
package scheduler
