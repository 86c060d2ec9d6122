package repository

// DiskUsage describes the volume holding a directory.
// Free is what an unprivileged user can allocate, so Used+Free may be below Total.
type DiskUsage struct {
	Total int64
	Free  int64
	Used  int64
}

// UsedPct returns Used as a percentage of Total.
func (d DiskUsage) UsedPct() float64 {
	if d.Total <= 0 {
		return 0
	}
	return float64(d.Used) / float64(d.Total) * 100
}
