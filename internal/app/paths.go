package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
)

// Arborescence : {out}/{série}/Season NN/{série} SxxEyy.{ext}

func SeriesDir(outDir string, s domain.Series) string {
	return filepath.Join(outDir, SanitizeTitle(s.DisplayTitle()))
}

func SeasonDir(outDir string, s domain.Series) string {
	return filepath.Join(SeriesDir(outDir, s), domain.SeasonFolder(s.Season))
}

func EpisodeFileBase(s domain.Series, fileNumber int) string {
	return domain.EpisodeBaseName(SanitizeTitle(s.DisplayTitle()), s.Season, fileNumber)
}

// FindEpisodeFile cherche le fichier vidéo de l'épisode, quelle que soit son extension.
func FindEpisodeFile(outDir string, s domain.Series, fileNumber int) (string, bool) {
	dir := SeasonDir(outDir, s)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	prefix := EpisodeFileBase(s, fileNumber) + "."
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".nfo", ".part", ".crdownload", ".tmp":
			continue
		}
		return filepath.Join(dir, name), true
	}
	return "", false
}

// moveFile déplace src vers dst, avec copie si les deux ne sont pas sur le même volume.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return err
	}
	_ = os.Remove(src)
	return nil
}
