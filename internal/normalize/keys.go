package normalize

import "github.com/starford/scenecorpus/internal/models"

// Keys computes the comparison keys for rec. rec itself is not modified.
func Keys(rec models.Record) models.Keyed {
	ck := CodeKey(rec.Code)
	return models.Keyed{
		Record:         rec,
		CodeKey:        ck,
		DescriptionKey: DescriptionKey(rec.Description),
		Lines:          LineCount(ck),
	}
}
