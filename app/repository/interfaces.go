package repository

import (
	"time"

	"github.com/snippetstream/snippetstream/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByGoogleID(googleID string) (*models.User, error)
	GetByActivationToken(token string) (*models.User, error)
	Update(user *models.User) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
	CountPremium() (int64, error)
}

// ContentGenerationRepository defines the interface for generation-related
// database operations
type ContentGenerationRepository interface {
	Create(generation *models.ContentGeneration) error
	GetByID(id uint) (*models.ContentGeneration, error)
	GetByShareSlug(slug string) (*models.ContentGeneration, error)
	GetByUserID(userID uint, offset, limit int) ([]models.ContentGeneration, error)
	Update(generation *models.ContentGeneration) error
	Count() (int64, error)
	CountByUserID(userID uint) (int64, error)
	CountSince(since time.Time) (int64, error)
	ShareSlugExists(slug string) (bool, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User              UserRepository
	ContentGeneration ContentGenerationRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:              NewUserRepository(db),
		ContentGeneration: NewContentGenerationRepository(db),
	}
}
