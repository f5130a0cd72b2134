package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	stdimage "image"
	"image/color"
	"image/png"
	"log"
	"time"

	"magic-studio-go/src/configs"
	"magic-studio-go/src/core/image"
	"magic-studio-go/src/core/providers/editor"
	"magic-studio-go/src/core/utils"

	// 导入所有editor provider以确保init函数被调用
	_ "magic-studio-go/src/core/providers/editor/gemini"
	_ "magic-studio-go/src/core/providers/editor/openai"

	"github.com/joho/godotenv"
)

func main() {
	functional := flag.Bool("functional", false, "发送一张测试图片做功能性检查，会产生一次真实的模型调用")
	prompt := flag.String("prompt", "Make the square blue.", "功能性检查使用的编辑指令")
	timeout := flag.Duration("timeout", 2*time.Minute, "功能性检查超时时间")
	flag.Parse()

	fmt.Println("=== Editor 连通性检查 ===")

	_ = godotenv.Load()

	// 加载配置
	config, path, err := configs.LoadConfig()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("使用配置文件: %s", path)

	// 创建日志记录器
	logger, err := utils.NewLogger(config)
	if err != nil {
		log.Fatalf("创建日志记录器失败: %v", err)
	}

	name, editorCfg, err := config.SelectedEditor()
	if err != nil {
		log.Fatalf("读取Editor配置失败: %v", err)
	}

	fmt.Printf("选中的Editor: %s\n", name)
	fmt.Printf("  类型: %s\n", editorCfg.Type)
	fmt.Printf("  模型: %s\n", editorCfg.ModelName)
	fmt.Printf("  已注册: %v\n", editor.GetRegisteredProviders())

	// 基础检查：创建并初始化provider
	start := time.Now()
	provider, err := editor.Create(editorCfg.Type, editor.ConfigFrom(editorCfg), logger)
	if err != nil {
		fmt.Printf("\n❌ 基础检查失败: %v\n", err)
		return
	}
	defer provider.Cleanup()
	fmt.Printf("\n✅ 基础检查通过 (%v)\n", time.Since(start))

	if !*functional {
		fmt.Println("未开启 -functional，跳过功能性检查")
		return
	}

	// 功能性检查：编辑一张纯色图片
	input, err := testImage()
	if err != nil {
		log.Fatalf("生成测试图片失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start = time.Now()
	result, err := provider.Edit(ctx, input, *prompt)
	if err != nil {
		fmt.Printf("\n❌ 功能性检查失败 [%s]: %v\n", editor.KindOf(err), err)
		return
	}

	fmt.Printf("\n✅ 功能性检查通过！\n")
	fmt.Printf("  耗时: %v\n", time.Since(start))
	fmt.Printf("  返回类型: %s\n", result.MediaType)
	fmt.Printf("  返回大小: %d bytes\n", len(result.Data))
	if format, w, h, err := image.Dimensions(result); err == nil {
		fmt.Printf("  图片: %s %dx%d\n", format, w, h)
	}

	fmt.Println("=== 连通性检查完成 ===")
}

func testImage() (image.Payload, error) {
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return image.Payload{}, err
	}
	return image.NewPayload("image/png", buf.Bytes()), nil
}
