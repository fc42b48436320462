package mapping

import (
	"strings"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
)

// PrimaryImage выбирает основное изображение по цепочке:
// локальное -> внешнее -> первое из галереи -> заглушка.
// Заглушка выбирается только если реальных изображений нет.
func PrimaryImage(p *models.Product, placeholder string) string {
	if url := strings.TrimSpace(p.ImageURL); url != "" {
		return url
	}
	if url := strings.TrimSpace(p.RemoteImageURL); url != "" {
		return url
	}
	for _, url := range p.GalleryURLs {
		if url = strings.TrimSpace(url); url != "" {
			return url
		}
	}
	return strings.TrimSpace(placeholder)
}

// SecondaryImages возвращает галерею без дублей и без основного изображения.
// Если реальных изображений ровно на одно или два меньше минимума,
// список дополняется заглушками (не более двух). При меньшем количестве
// заглушки не добавляются, чтобы карточка не состояла из заглушек.
func SecondaryImages(p *models.Product, primary string, placeholders []string, minCount int) []string {
	primary = strings.TrimSpace(primary)
	seen := make(map[string]struct{}, len(p.GalleryURLs))
	images := make([]string, 0, len(p.GalleryURLs)+2)

	for _, url := range p.GalleryURLs {
		url = strings.TrimSpace(url)
		if url == "" || url == primary {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		images = append(images, url)
	}

	realCount := len(images)
	if minCount <= 0 || realCount >= minCount || realCount < minCount-2 {
		return images
	}

	added := 0
	for _, ph := range placeholders {
		if len(images) >= minCount || added >= 2 {
			break
		}
		ph = strings.TrimSpace(ph)
		if ph == "" || ph == primary {
			continue
		}
		if _, dup := seen[ph]; dup {
			continue
		}
		seen[ph] = struct{}{}
		images = append(images, ph)
		added++
	}

	return images
}
