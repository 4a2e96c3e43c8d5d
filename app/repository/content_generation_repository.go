package repository

import (
	"time"

	"github.com/snippetstream/snippetstream/app/models"
	"gorm.io/gorm"
)

// contentGenerationRepository implements the ContentGenerationRepository interface
type contentGenerationRepository struct {
	db *gorm.DB
}

// NewContentGenerationRepository creates a new generation repository instance
func NewContentGenerationRepository(db *gorm.DB) ContentGenerationRepository {
	return &contentGenerationRepository{db: db}
}

// Create stores a new generation run
func (r *contentGenerationRepository) Create(generation *models.ContentGeneration) error {
	return r.db.Create(generation).Error
}

// GetByID retrieves a generation by its ID
func (r *contentGenerationRepository) GetByID(id uint) (*models.ContentGeneration, error) {
	var generation models.ContentGeneration
	err := r.db.First(&generation, id).Error
	if err != nil {
		return nil, err
	}
	return &generation, nil
}

// GetByShareSlug retrieves a generation by its public share slug
func (r *contentGenerationRepository) GetByShareSlug(slug string) (*models.ContentGeneration, error) {
	var generation models.ContentGeneration
	err := r.db.Where("share_slug = ?", slug).First(&generation).Error
	if err != nil {
		return nil, err
	}
	return &generation, nil
}

// GetByUserID retrieves a paginated list of a user's generations, newest first
func (r *contentGenerationRepository) GetByUserID(userID uint, offset, limit int) ([]models.ContentGeneration, error) {
	var generations []models.ContentGeneration
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Offset(offset).Limit(limit).Find(&generations).Error
	return generations, err
}

// Update updates an existing generation
func (r *contentGenerationRepository) Update(generation *models.ContentGeneration) error {
	return r.db.Save(generation).Error
}

// Count returns the total number of generations
func (r *contentGenerationRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.ContentGeneration{}).Count(&count).Error
	return count, err
}

// CountByUserID returns the number of generations for a user
func (r *contentGenerationRepository) CountByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.ContentGeneration{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

// CountSince returns the number of generations created at or after the given time
func (r *contentGenerationRepository) CountSince(since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.ContentGeneration{}).Where("created_at >= ?", since).Count(&count).Error
	return count, err
}

// ShareSlugExists reports whether a share slug is already taken
func (r *contentGenerationRepository) ShareSlugExists(slug string) (bool, error) {
	var count int64
	err := r.db.Model(&models.ContentGeneration{}).Where("share_slug = ?", slug).Count(&count).Error
	return count > 0, err
}
