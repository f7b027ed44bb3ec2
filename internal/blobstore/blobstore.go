// Package blobstore управляет хранением файловых blob'ов на диске.
//
// АРХИТЕКТУРНАЯ РОЛЬ: BlobStore ничего не знает о Group/File/FileVersion —
// эти сущности принадлежат internal/metastore. BlobStore лишь отображает
// пару (group_id, stored_name) на путь <upload_root>/<group_id>/<stored_name>
// и умеет писать, читать, удалять и перечислять такие пути. Какой файл
// является "мусором" (orphan) решает internal/reclaim, а не этот пакет
// (см. spec.md §4.1: "The blob store is oblivious to the metadata store").
//
// Все пути строятся из уже провалидированных идентификаторов: group_id и
// stored_name всегда server-generated (см. internal/upload), так что path
// traversal со стороны пользовательского ввода невозможен.
package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"groupbin/internal/apperr"
)

// EntryKind различает директории (группы) и файлы (blob'ы) при перечислении
// верхнего уровня хранилища — используется ГК для обнаружения чужеродных
// записей и осиротевших директорий групп.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDir
)

// Entry — одна запись верхнего уровня хранилища.
type Entry struct {
	Name string
	Kind EntryKind
}

// Store реализует контракт §4.1 поверх локальной файловой системы.
type Store struct {
	root string
}

// New создаёт Store, укоренённый в root. internal/config при старте
// проверяет лишь то, что UPLOAD_FOLDER задан; Store создаёт директории
// групп (и недостающие родительские директории) по требованию.
func New(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

func (s *Store) groupDir(groupID string) string {
	return filepath.Join(s.root, groupID)
}

func (s *Store) blobPath(groupID, storedName string) string {
	return filepath.Join(s.groupDir(groupID), storedName)
}

// Save записывает source в <root>/<groupID>/<storedName>, создавая
// директорию группы при необходимости, и возвращает число записанных
// байт. Запись идёт во временный файл в той же директории с последующим
// atomic rename, так что частично записанный blob никогда не виден под
// конечным именем (тот же приём, что и у чанков в internal/upload).
func (s *Store) Save(ctx context.Context, groupID, storedName string, source io.Reader) (int64, error) {
	dir := s.groupDir(groupID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, apperr.IOError(err, "create group directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, storedName+".tmp-*")
	if err != nil {
		return 0, apperr.IOError(err, "create temp blob in %s", dir)
	}
	tmpName := tmp.Name()

	written, copyErr := io.Copy(tmp, source)
	syncErr := tmp.Sync()
	closeErr := tmp.Close()

	if copyErr != nil || syncErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if copyErr != nil {
			return 0, apperr.IOError(copyErr, "write blob %s/%s", groupID, storedName)
		}
		if syncErr != nil {
			return 0, apperr.IOError(syncErr, "fsync blob %s/%s", groupID, storedName)
		}
		return 0, apperr.IOError(closeErr, "close temp blob %s/%s", groupID, storedName)
	}

	final := s.blobPath(groupID, storedName)
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return 0, apperr.IOError(err, "rename blob into place %s", final)
	}

	return written, nil
}

// Open открывает blob для потокового чтения. Отсутствие файла возвращает
// apperr.BlobMissing, а не NotFound: по контракту §4.1 это различие важно —
// строка метаданных может существовать, пока сам blob уже потерян.
func (s *Store) Open(groupID, storedName string) (io.ReadCloser, error) {
	f, err := os.Open(s.blobPath(groupID, storedName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.BlobMissing("%s/%s", groupID, storedName)
		}
		return nil, apperr.IOError(err, "open blob %s/%s", groupID, storedName)
	}
	return f, nil
}

// Remove удаляет один blob; отсутствие файла не является ошибкой
// (идемпотентность требуется §4.1).
func (s *Store) Remove(groupID, storedName string) error {
	err := os.Remove(s.blobPath(groupID, storedName))
	if err != nil && !os.IsNotExist(err) {
		return apperr.IOError(err, "remove blob %s/%s", groupID, storedName)
	}
	return nil
}

// RemoveGroup рекурсивно удаляет всю директорию группы; идемпотентно.
func (s *Store) RemoveGroup(groupID string) error {
	err := os.RemoveAll(s.groupDir(groupID))
	if err != nil {
		return apperr.IOError(err, "remove group directory %s", groupID)
	}
	return nil
}

// ListTopLevel перечисляет непосредственные записи корня хранилища —
// используется ГК для поиска директорий групп, не связанных ни с одной
// строкой Group в метаданных.
func (s *Store) ListTopLevel() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.IOError(err, "list top-level entries of %s", s.root)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		kind := KindFile
		if de.IsDir() {
			kind = KindDir
		}
		entries = append(entries, Entry{Name: de.Name(), Kind: kind})
	}
	return entries, nil
}

// EnsureGroupDir creates a group's blob directory if it is absent —
// used by internal/fileservice when eagerly creating it at create_group
// time (spec.md §4.4: "creates the group's blob directory eagerly").
func (s *Store) EnsureGroupDir(groupID string) error {
	if err := os.MkdirAll(s.groupDir(groupID), 0o755); err != nil {
		return apperr.IOError(err, "ensure group directory %s", groupID)
	}
	return nil
}

// SafeExtension sanitizes a user-supplied filename's extension for use in
// a server-chosen stored_name: lowercased, no path separators, no control
// characters, bounded length. Grounded on spec.md §4.3's safe_extension.
func SafeExtension(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return ""
	}
	clean := make([]rune, 0, len(ext))
	for _, r := range ext {
		if r == '/' || r == '\\' || r == 0 || r < 0x20 {
			continue
		}
		clean = append(clean, r)
	}
	out := string(clean)
	if len(out) > 16 {
		out = out[:16]
	}
	return toLower(out)
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
