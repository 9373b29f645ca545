package app

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"kb-assistant-go/internal/ingest"
	"kb-assistant-go/internal/model"
	"kb-assistant-go/internal/service"
	"kb-assistant-go/pkg/log"
)

// SeedUserID 是启动导入文档的归属用户。
const SeedUserID model.UserID = "seed"

// SeedDirectory 扫描目录下受支持的文件并通过标准导入流程导入。
// 已导入的文件按 MD5 去重，因此重复启动是幂等的。返回成功导入（含重复）的文件数。
func SeedDirectory(ctx context.Context, dir string, docs service.DocumentService) int {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("SeedDirectory: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return 0
	}

	imported := 0
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		if _, err := ingest.DetectType(d.Name()); err != nil {
			return nil
		}
		fi, err := d.Info()
		if err != nil || fi.Size() == 0 {
			log.Infof("SeedDirectory: 空文件或不可读，跳过: %s", path)
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			log.Warnf("SeedDirectory: 打开文件失败: %s, err=%v", path, err)
			return nil
		}
		defer f.Close()

		res := docs.Ingest(ctx, SeedUserID, d.Name(), f, fi.Size())
		if !res.Success {
			log.Warnf("SeedDirectory: 导入失败: %s, err=%s", path, res.Error)
			return nil
		}
		if res.Duplicate {
			log.Infof("SeedDirectory: 已存在，跳过: %s", d.Name())
		} else {
			log.Infof("SeedDirectory: 导入完成: %s", res)
		}
		imported++
		return nil
	})
	if walkErr != nil {
		log.Warnf("SeedDirectory: 遍历目录发生错误: %v", walkErr)
	}
	return imported
}
