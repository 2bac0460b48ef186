package repository

import (
	"errors"
	"fmt"

	"github.com/timmy/loadgate/internal/domain"
	"gorm.io/gorm"
)

// inChunk bounds the number of bind parameters in one IN clause.
const inChunk = 500

func notFound(err error, kind, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return err
}
